package vm

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Debug features
// ---------------------------------------------------------------------------

// pcOffset locates pc within base's code vector, or -1.
func pcOffset(base *CompiledCode, pc []Insn) int {
	if base == nil || pc == nil {
		return -1
	}
	n := len(base.Insns) - len(pc)
	if n < 0 || n > len(base.Insns) {
		return -1
	}
	return n
}

func resumeInfo(base *CompiledCode, pc []Insn) Value {
	if base == nil {
		return false
	}
	name := base.Name
	if name == "" {
		name = "(anonymous)"
	}
	off := pcOffset(base, pc)
	if off < 0 {
		return Symbol(name)
	}
	return Cons(Symbol(name), off)
}

// GetStackLite returns a list describing the pending resume points,
// innermost first: (name . pc-offset) per interpreted frame.
func (vm *VM) GetStackLite() Value {
	var infos []Value
	if info := resumeInfo(vm.base, vm.pc); info != false {
		infos = append(infos, info)
	}
	for c := vm.cont; c != nil; c = c.prev {
		if c.native() || isBoundaryPC(c.pc) {
			continue
		}
		if info := resumeInfo(c.base, c.pc); info != false {
			infos = append(infos, info)
		}
	}
	return List(infos...)
}

// Dump writes the VM's internal state to w. Used when the VM detects an
// inconsistency it cannot recover from.
func (vm *VM) Dump(w io.Writer) {
	fmt.Fprintf(w, "VM %s ---------------------------------------------------\n", vm.Name)
	baseName := "(none)"
	if vm.base != nil {
		baseName = vm.base.Name
	}
	fmt.Fprintf(w, "  base: %s  pc offset: %d\n", baseName, pcOffset(vm.base, vm.pc))
	fmt.Fprintf(w, "    sp: %d  argp: %d  stack: %d slots\n", vm.sp, vm.argp, len(vm.stack))
	fmt.Fprintf(w, "  val0: %s  numVals: %d\n", ToString(vm.val0), vm.numVals)

	fmt.Fprintf(w, "  envs:\n")
	for e := vm.env; e != nil; e = e.up {
		if e.forwarded() {
			fmt.Fprintf(w, "    (forwarded)\n")
			e = e.up
			if e == nil {
				break
			}
		}
		fmt.Fprintf(w, "    %s size=%d onStack=%v\n", ToString(e.info), e.size, e.onStack)
	}

	fmt.Fprintf(w, "  conts:\n")
	for c := vm.cont; c != nil; c = c.prev {
		switch {
		case c.forwarded():
			fmt.Fprintf(w, "    (forwarded)\n")
		case c.native():
			fmt.Fprintf(w, "    native data=%d onStack=%v\n", len(c.data), c.onStack)
		case isBoundaryPC(c.pc):
			fmt.Fprintf(w, "    boundary\n")
		default:
			name := "(none)"
			if c.base != nil {
				name = c.base.Name
			}
			fmt.Fprintf(w, "    %s@%d argp=%d size=%d onStack=%v\n",
				name, pcOffset(c.base, c.pc), c.argp, c.size, c.onStack)
		}
	}

	nEP := 0
	for ep := vm.escapePoint; ep != nil; ep = ep.prev {
		nEP++
	}
	nCS := 0
	for cs := vm.cstack; cs != nil; cs = cs.prev {
		nCS++
	}
	fmt.Fprintf(w, "  escape points: %d  boundaries: %d  handlers: %s\n",
		nEP, nCS, ToString(vm.handlers))
}
