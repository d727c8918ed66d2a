package vm

// ---------------------------------------------------------------------------
// Stack relocation
// ---------------------------------------------------------------------------
//
// Frames move from the arenas to the heap in two passes. Pass one copies
// each live frame and turns the vacated arena frame into a forwarding
// marker (size == forwardedMark, up/prev pointing at the heap copy).
// Pass two chases forwarding markers from every external root: the VM
// registers, the cstack chain, the escape-point chain, and the floating
// escape points. Forwarding markers only ever live in the arenas; heap
// frames never point back into them.

// checkStack guarantees room for n more value slots plus headroom for a
// couple of frames in each arena, relocating everything live to the
// heap if necessary. All allocation sites call this first; the alloc
// functions themselves never relocate, so pointers taken before an
// allocation stay valid through it.
func (vm *VM) checkStack(n int) {
	if vm.sp+n <= len(vm.stack) && vm.arena.envRoom(2) && vm.arena.contRoom(2) {
		return
	}
	vm.saveStack()
	if vm.sp+n > len(vm.stack) {
		vm.fatal("value stack overrun")
	}
}

// saveEnv relocates the environment chain starting at begin, leaving
// forwarding markers behind. Pointers to moved frames held in arena
// continuation frames are the caller's to fix.
func (vm *VM) saveEnv(begin *envFrame) *envFrame {
	e := begin
	if e == nil || !e.onStack {
		return e
	}
	if e.forwarded() {
		return e.up
	}
	var head, prev *envFrame
	for e != nil && e.onStack {
		if e.forwarded() {
			if prev != nil {
				prev.up = e.up
			}
			return head
		}
		saved := &envFrame{
			up:    e.up,
			info:  e.info,
			size:  e.size,
			slots: make([]Value, e.size),
		}
		copy(saved.slots, e.slots)
		if prev != nil {
			prev.up = saved
		}
		if head == nil {
			head = saved
		}
		next := e.up
		e.up = saved
		e.size = forwardedMark
		e.info = Undef
		e.slots = nil
		prev = saved
		e = next
	}
	return head
}

// saveCont relocates the whole continuation chain (and the environments
// hanging off it), then rewrites every external pointer that may refer
// to a moved frame. After saveCont the only live data left in the value
// stack is the argument window [argp,sp).
func (vm *VM) saveCont() {
	vm.env = vm.saveEnv(vm.env)

	c := vm.cont
	if c == nil || !c.onStack {
		return
	}

	// Pass one: copy frames out, leave forwarding markers.
	var prev *contFrame
	for c != nil && c.onStack {
		saved := &contFrame{
			prev:  c.prev,
			argp:  c.argp,
			size:  c.size,
			pc:    c.pc,
			base:  c.base,
			after: c.after,
			data:  c.data,
		}
		switch {
		case c.env == nil || !c.env.onStack:
			saved.env = c.env
		case c.env.forwarded():
			saved.env = c.env.up
		default:
			saved.env = vm.saveEnv(c.env)
		}
		if !c.native() && c.size > 0 {
			saved.args = make([]Value, c.size)
			copy(saved.args, vm.stack[c.argp:c.argp+c.size])
		}
		if prev != nil {
			prev.prev = saved
		}
		next := c.prev
		c.prev = saved
		c.size = forwardedMark
		prev = saved
		c = next
	}

	// Pass two: resolve forwarding from every root.
	if vm.cont.forwarded() {
		vm.cont = vm.cont.prev
	}
	for cs := vm.cstack; cs != nil; cs = cs.prev {
		if cs.cont != nil && cs.cont.forwarded() {
			cs.cont = cs.cont.prev
		}
	}
	for ep := vm.escapePoint; ep != nil; ep = ep.prev {
		if ep.cont != nil && ep.cont.forwarded() {
			ep.cont = ep.cont.prev
		}
	}
	for ep := vm.floatingEP; ep != nil; ep = ep.floating {
		if ep.cont != nil && ep.cont.forwarded() {
			ep.cont = ep.cont.prev
		}
	}
}

// saveStack empties the arenas: every live frame goes to the heap, the
// pending argument window slides to the stack base, and the freed
// region is zeroed so stale values don't pin garbage.
func (vm *VM) saveStack() {
	vm.saveCont()
	n := vm.sp - vm.argp
	if n > 0 && vm.argp != 0 {
		copy(vm.stack[:n], vm.stack[vm.argp:vm.sp])
	}
	for i := n; i < vm.sp; i++ {
		vm.stack[i] = nil
	}
	vm.sp = n
	vm.argp = 0
	vm.arena.reset()
}

// getEnv promotes the current environment chain to the heap, fixing the
// env pointers of arena continuation frames. Used when an environment
// is captured by a closure and must outlive the stack discipline.
func (vm *VM) getEnv() *envFrame {
	e := vm.saveEnv(vm.env)
	if e != vm.env {
		vm.env = e
		for c := vm.cont; c != nil && c.onStack; c = c.prev {
			if c.env != nil && c.env.onStack && c.env.forwarded() {
				c.env = c.env.up
			}
		}
	}
	return e
}
