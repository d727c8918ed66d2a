package vm

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// VM: register set and dispatch loop
// ---------------------------------------------------------------------------
//
// A VM executes compiled code vectors over one value stack and two frame
// arenas. Native code re-enters the loop through runBoundary (apply.go);
// non-local control transfer inside one VM is a panic carrying an
// escapeSignal, resolved at the nearest matching boundary.

// MaxValues is the most values one continuation can receive. The first
// value rides in val0, the rest in the vals register file.
const MaxValues = 20

// exSoftware is the exit status for an uncaught serious condition at the
// outermost boundary.
const exSoftware = 70

// VM is a virtual machine instance. A VM is single-threaded: only the
// goroutine attached to it may run code, while EnqueueRequest and
// RequestStop may be called from anywhere.
type VM struct {
	Name   string
	Module *Module

	// value stack
	stack []Value
	sp    int
	argp  int

	arena *frameArena

	// registers
	env  *envFrame
	cont *contFrame
	base *CompiledCode
	pc   []Insn

	// val0 carries the primary value; values 2..MaxValues live in
	// vals[0..MaxValues-2]. The last slot is spare: argument spreading
	// parks a folded tail list there.
	val0    Value
	vals    [MaxValues]Value
	numVals int

	// dynamic-wind handler chain: list of (before . after) pairs.
	handlers Value

	// exception machinery
	escapePoint        *escapePoint
	floatingEP         *escapePoint
	xhandler           Value // low-level handler; nil means default
	cstack             *cStack
	errorBeingReported bool

	// escape registers, valid while an escapeSignal unwinds
	escapeReason escapeReason
	escapeEP     *escapePoint
	escapeValue  Value

	// checkpoint machinery
	attention   atomic.Bool
	mu          sync.Mutex
	cond        *sync.Cond
	state       VMState
	stopRequest bool
	requests    []func(*VM)
	finalizers  []Value

	// diag receives uncaught-condition reports and fatal dumps.
	diag io.Writer
	// exitHook is called instead of os.Exit when an uncaught serious
	// condition reaches the outermost boundary. Replaceable in tests.
	exitHook func(code int)
}

// NewVM creates a VM with the given configuration (nil for defaults).
// The VM gets a fresh module with the standard primitives installed.
func NewVM(cfg *Config) *VM {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	vm := &VM{
		Name:     uuid.NewString(),
		Module:   NewModule("user"),
		stack:    make([]Value, cfg.StackSize),
		arena:    newFrameArena(cfg.EnvFrames, cfg.ContFrames),
		val0:     Undef,
		handlers: Nil,
		numVals:  1,
		state:    StateNew,
		diag:     os.Stderr,
		exitHook: os.Exit,
	}
	vm.cond = sync.NewCond(&vm.mu)
	InstallPrimitives(vm.Module)
	return vm
}

// SetDiagnosticOutput redirects uncaught-condition reports and dumps.
func (vm *VM) SetDiagnosticOutput(w io.Writer) { vm.diag = w }

// Results returns the full result vector of the last completed
// evaluation, primary value first.
func (vm *VM) Results() []Value {
	if vm.numVals == 0 {
		return nil
	}
	out := make([]Value, vm.numVals)
	out[0] = vm.val0
	copy(out[1:], vm.vals[:vm.numVals-1])
	return out
}

// NumResults returns the number of values the last evaluation yielded.
func (vm *VM) NumResults() int { return vm.numVals }

// ---------------------------------------------------------------------------
// Stack micro-operations
// ---------------------------------------------------------------------------

func (vm *VM) pushArg(v Value) {
	vm.checkStack(1)
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) popArg() Value {
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = nil
	return v
}

// pushCont pushes an interpreted continuation frame resuming at nextPC.
// The incomplete argument window [argp,sp) is adopted by the frame and
// restored when it is popped.
func (vm *VM) pushCont(nextPC []Insn) {
	c := vm.arena.allocCont()
	c.prev = vm.cont
	c.env = vm.env
	c.argp = vm.argp
	c.size = vm.sp - vm.argp
	c.pc = nextPC
	c.base = vm.base
	vm.cont = c
	vm.argp = vm.sp
}

// PushCC pushes a native continuation frame: after runs with the value
// returned here, plus the captured data. Callers usually follow with
// ApplyNext so the loop invokes a procedure first.
func (vm *VM) PushCC(after NativeCont, data ...any) {
	vm.checkStack(1)
	c := vm.arena.allocCont()
	c.prev = vm.cont
	c.env = vm.env
	c.argp = vm.sp
	c.size = 0
	c.after = after
	c.data = data
	c.base = vm.base
	vm.cont = c
	vm.argp = vm.sp
}

// popCont returns from the current continuation frame. Three sub-cases:
// native frames call their after function; interpreted frames restore
// the saved argument window either in place (arena) or by copying it
// back from the heap.
func (vm *VM) popCont() {
	c := vm.cont
	switch {
	case c.native():
		after, data, v := c.after, c.data, vm.val0
		if c.onStack {
			vm.sp = c.argp
		}
		vm.env = c.env
		vm.argp = vm.sp
		vm.pc = returnInsns
		vm.base = c.base
		vm.cont = c.prev
		vm.val0 = after(vm, v, data)
	case c.onStack:
		vm.sp = c.argp + c.size
		vm.env = c.env
		vm.argp = c.argp
		vm.pc = c.pc
		vm.base = c.base
		vm.cont = c.prev
	default:
		size := c.size
		vm.argp, vm.sp = 0, 0
		vm.env = c.env
		vm.pc = c.pc
		vm.base = c.base
		if size > 0 {
			copy(vm.stack[:size], c.args)
			vm.sp = size
		}
		vm.cont = c.prev
	}
}

// finishEnv seals the argument window [argp,sp) into an environment
// frame chained under up.
func (vm *VM) finishEnv(info Value, up *envFrame) {
	e := vm.arena.allocEnv()
	e.up = up
	e.info = info
	e.size = vm.sp - vm.argp
	e.slots = vm.stack[vm.argp:vm.sp:vm.sp]
	vm.argp = vm.sp
	vm.env = e
}

// discardEnv slides the argument window being built down over the
// current (dead) environment, preparing a tail call.
func (vm *VM) discardEnv() {
	to := 0
	if c := vm.cont; c != nil && c.onStack {
		if c.native() {
			to = c.argp
		} else {
			to = c.argp + c.size
		}
	}
	n := vm.sp - vm.argp
	if n > 0 && to != vm.argp {
		copy(vm.stack[to:to+n], vm.stack[vm.argp:vm.sp])
	}
	vm.argp = to
	vm.sp = to + n
	vm.env = nil
}

func (vm *VM) lref(depth, offset int) Value {
	e := vm.env
	for i := 0; i < depth; i++ {
		e = e.up
	}
	return e.slots[e.size-1-offset]
}

func (vm *VM) lset(depth, offset int, v Value) {
	e := vm.env
	for i := 0; i < depth; i++ {
		e = e.up
	}
	e.slots[e.size-1-offset] = v
}

func (vm *VM) literal(i int) Value { return vm.base.Literals[i] }

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// runLoop executes instructions until control pops past a boundary frame
// or off the end of the continuation chain. It never returns across an
// escape; those unwind as panics to runBoundary.
func (vm *VM) runLoop() {
	for {
		if vm.attention.Load() {
			vm.processQueue()
		}
		if len(vm.pc) == 0 {
			vm.fatal("program counter ran off the code vector")
		}
		insn := vm.pc[0]
		vm.pc = vm.pc[1:]

		switch insn.Op {
		case OpNop:

		case OpConst:
			vm.val0 = vm.literal(insn.Arg0)
			vm.numVals = 1

		case OpConstPush:
			vm.pushArg(vm.literal(insn.Arg0))

		case OpPush:
			vm.pushArg(vm.val0)

		case OpLRef:
			vm.val0 = vm.lref(insn.Arg0, insn.Arg1)
			vm.numVals = 1

		case OpLSet:
			vm.lset(insn.Arg0, insn.Arg1, vm.val0)
			vm.val0 = Undef
			vm.numVals = 1

		case OpLocalEnv:
			vm.checkStack(1)
			vm.finishEnv(Undef, vm.env)

		case OpPushLocalEnv:
			vm.pushArg(vm.val0)
			vm.finishEnv(Undef, vm.env)

		case OpPopLocalEnv:
			vm.env = vm.env.up

		case OpGRef:
			vm.val0 = vm.globalRef(insn.Arg0)
			vm.numVals = 1

		case OpGSet:
			vm.globalSet(insn.Arg0, vm.val0)
			vm.val0 = Undef
			vm.numVals = 1

		case OpDefine:
			// The literal slot may have been memoized into a binding
			// cell by a GREF sharing it.
			var sym Symbol
			switch x := vm.literal(insn.Arg0).(type) {
			case Symbol:
				sym = x
			case *Gloc:
				sym = x.Name
			default:
				vm.fatal("define literal is neither a symbol nor a binding cell")
			}
			vm.Module.Define(sym, vm.val0)
			vm.val0 = sym
			vm.numVals = 1

		case OpPreCall:
			vm.checkStack(1)
			vm.pushCont(vm.base.Insns[insn.Arg0:])

		case OpCall:
			vm.applyProc(vm.val0, insn.Arg0)

		case OpTailCall:
			vm.discardEnv()
			vm.applyProc(vm.val0, insn.Arg0)

		case OpValuesApply:
			vm.valuesApply(insn.Arg0)

		case OpTailApplyList:
			proc := vm.popArg()
			args := ListToSlice(vm.val0)
			vm.discardEnv()
			vm.checkStack(len(args))
			for _, a := range args {
				vm.pushArg(a)
			}
			vm.applyProc(proc, len(args))

		case OpJump:
			vm.pc = vm.base.Insns[insn.Arg0:]

		case OpBranchFalse:
			if Falsy(vm.val0) {
				vm.pc = vm.base.Insns[insn.Arg0:]
			}

		case OpClosure:
			code := vm.literal(insn.Arg0).(*CompiledCode)
			vm.val0 = MakeClosure(code, vm.getEnv())
			vm.numVals = 1

		case OpRet:
			if vm.cont == nil || isBoundaryPC(vm.cont.pc) {
				return
			}
			vm.popCont()

		case OpNumAdd2:
			vm.val0 = vm.numAdd(vm.popArg(), vm.val0)
			vm.numVals = 1

		case OpNumSub2:
			vm.val0 = vm.numSub(vm.popArg(), vm.val0)
			vm.numVals = 1

		case OpNumMul2:
			vm.val0 = vm.numMul(vm.popArg(), vm.val0)
			vm.numVals = 1

		case OpNumEq2:
			vm.val0 = vm.numCompare(vm.popArg(), vm.val0) == 0
			vm.numVals = 1

		case OpNumLT2:
			vm.val0 = vm.numCompare(vm.popArg(), vm.val0) < 0
			vm.numVals = 1

		case OpCons:
			vm.val0 = Cons(vm.popArg(), vm.val0)
			vm.numVals = 1

		default:
			vm.fatal(fmt.Sprintf("illegal vm instruction: %d", insn.Op))
		}
	}
}

// valuesApply spreads the vals register file as arguments and
// tail-calls val0. The last register slot may hold a folded rest list.
func (vm *VM) valuesApply(nargs int) {
	proc := vm.val0
	vm.discardEnv()
	vm.checkStack(nargs + 1)
	argc := 0
	for i := 0; i < nargs; i++ {
		if i == MaxValues-1 {
			for rest := vm.vals[i]; ; {
				p, ok := rest.(*Pair)
				if !ok {
					break
				}
				vm.pushArg(p.Car)
				argc++
				rest = p.Cdr
			}
			break
		}
		vm.pushArg(vm.vals[i])
		argc++
	}
	vm.applyProc(proc, argc)
}

// processQueue runs queued requests between two instructions, bracketed
// by a continuation frame so the interrupted computation resumes intact.
func (vm *VM) processQueue() {
	vm.checkStack(1)
	vm.pushCont(vm.pc)
	vm.processQueuedRequests()
	vm.popCont()
}

// fatal reports an unrecoverable internal state and panics. This is for
// VM bugs and malformed bytecode, not user errors.
func (vm *VM) fatal(msg string) {
	fmt.Fprintf(vm.diag, "vm: %s\n", msg)
	vm.Dump(vm.diag)
	panic("vm: " + msg)
}

// ---------------------------------------------------------------------------
// Numeric helpers for the fused arithmetic instructions
// ---------------------------------------------------------------------------

func (vm *VM) numAdd(x, y Value) Value {
	switch a := x.(type) {
	case int:
		switch b := y.(type) {
		case int:
			return a + b
		case float64:
			return float64(a) + b
		}
	case float64:
		switch b := y.(type) {
		case int:
			return a + float64(b)
		case float64:
			return a + b
		}
	}
	vm.Errorf("operation + requires numbers, got %s and %s", ToString(x), ToString(y))
	return nil
}

func (vm *VM) numSub(x, y Value) Value {
	switch a := x.(type) {
	case int:
		switch b := y.(type) {
		case int:
			return a - b
		case float64:
			return float64(a) - b
		}
	case float64:
		switch b := y.(type) {
		case int:
			return a - float64(b)
		case float64:
			return a - b
		}
	}
	vm.Errorf("operation - requires numbers, got %s and %s", ToString(x), ToString(y))
	return nil
}

func (vm *VM) numMul(x, y Value) Value {
	switch a := x.(type) {
	case int:
		switch b := y.(type) {
		case int:
			return a * b
		case float64:
			return float64(a) * b
		}
	case float64:
		switch b := y.(type) {
		case int:
			return a * float64(b)
		case float64:
			return a * b
		}
	}
	vm.Errorf("operation * requires numbers, got %s and %s", ToString(x), ToString(y))
	return nil
}

func (vm *VM) numCompare(x, y Value) int {
	toF := func(v Value) (float64, bool) {
		switch n := v.(type) {
		case int:
			return float64(n), true
		case float64:
			return n, true
		}
		return 0, false
	}
	if a, ok := x.(int); ok {
		if b, ok := y.(int); ok {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		}
	}
	a, okA := toF(x)
	b, okB := toF(y)
	if !okA || !okB {
		vm.Errorf("numeric comparison requires numbers, got %s and %s",
			ToString(x), ToString(y))
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
