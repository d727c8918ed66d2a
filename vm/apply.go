package vm

// ---------------------------------------------------------------------------
// Boundary bridge: native code calling into the dispatch loop
// ---------------------------------------------------------------------------
//
// Every native-to-interpreted call goes through runBoundary. It pushes a
// boundary continuation frame (so returns stop there) and a cStack
// record (so escapes stop there), then runs the loop until either the
// program returns across the boundary or an escape unwinds to it.
//
// Continuations captured under a boundary become invalid once that
// native call returns; invoking one later still runs its interpreted
// part, but returning across the dead boundary is an error.

type escapeReason int

const (
	escapeNone escapeReason = iota
	escapeCont              // a captured continuation is being thrown
	escapeError             // a serious condition is unwinding
)

// escapeSignal is the panic payload for non-local control transfer. The
// transfer's parameters ride in the VM's escape registers.
type escapeSignal struct {
	vm *VM
}

// cStack records one native re-entry into the loop.
type cStack struct {
	prev *cStack
	cont *contFrame // vm.cont at entry; also the boundary frame itself
}

// runBoundary executes program (or the explicit code vector codevec
// within program's literal scope) and returns its primary value.
func (vm *VM) runBoundary(program *CompiledCode, codevec []Insn) Value {
	prevPC := vm.pc

	vm.checkStack(1)
	vm.pushCont(boundaryInsns)
	vm.base = program
	if codevec != nil {
		vm.pc = codevec
	} else {
		vm.pc = program.Insns
		vm.checkStack(program.MaxStack)
	}

	cs := &cStack{prev: vm.cstack, cont: vm.cont}
	vm.cstack = cs

	// Each round runs under one recover, so escapes raised while
	// processing a previous escape, or while handling completion,
	// come back to this same boundary.
	pending := false
	done := false
	for !done {
		pending = vm.boundaryRound(cs, prevPC, pending, &done)
	}

	vm.cstack = vm.cstack.prev
	return vm.val0
}

// boundaryRound performs one arming of the boundary: optionally resolve
// a pending escape, then run the loop to completion. It reports whether
// a new escape for this VM unwound here during the round.
func (vm *VM) boundaryRound(cs *cStack, prevPC []Insn, processEscape bool, done *bool) (escaped bool) {
	defer func() {
		if r := recover(); r != nil {
			sig, ok := r.(escapeSignal)
			// A transfer aimed at an outer boundary has already popped
			// the cstack chain past this record; let it keep unwinding
			// the native frames in between.
			if !ok || sig.vm != vm || vm.escapeReason == escapeNone || vm.cstack != cs {
				panic(r)
			}
			escaped = true
		}
	}()

	if processEscape {
		vm.resolveEscape(cs)
	}
	vm.escapeReason = escapeNone

	vm.runLoop()

	switch {
	case vm.cont == cs.cont:
		vm.popCont()
		vm.pc = prevPC
	case vm.cont == nil:
		// A partial continuation ran to its delimiter.
		vm.cont = cs.cont
		vm.popCont()
		vm.pc = prevPC
	default:
		vm.Errorf("attempt to return from a ghost continuation")
	}
	*done = true
	return false
}

// resolveEscape handles an escape that unwound to this boundary. It
// returns normally when the loop should restart here, and panics onward
// when an outer boundary owns the transfer.
func (vm *VM) resolveEscape(cs *cStack) {
	switch vm.escapeReason {
	case escapeCont:
		ep := vm.escapeEP
		if ep.cstack == vm.cstack {
			handlers := vm.throwContCalculateHandlers(ep)
			vm.pc = returnInsns
			vm.val0 = vm.throwContBody(handlers, ep, vm.escapeValue)
			return
		}
		vm.cont = cs.cont
		vm.popCont()
		vm.cstack = vm.cstack.prev
		panic(escapeSignal{vm})

	case escapeError:
		ep := vm.escapeEP
		if ep != nil && ep.cstack == vm.cstack {
			vm.cont = ep.cont
			vm.pc = returnInsns
			return
		}
		if vm.cstack.prev == nil {
			// Outermost boundary with nobody to catch this; the
			// dynamic environment is already unwound.
			vm.exitHook(exSoftware)
			panic("vm: exit hook returned")
		}
		vm.cont = cs.cont
		vm.popCont()
		vm.cstack = vm.cstack.prev
		panic(escapeSignal{vm})

	default:
		vm.fatal("escape with no reason recorded")
	}
}

// ---------------------------------------------------------------------------
// Recursive entry points (exceptions propagate)
// ---------------------------------------------------------------------------

// EvalRec runs a compiled program to completion and returns its primary
// value. Conditions raised by the program propagate to the enclosing
// boundary, or terminate the process at the outermost one.
func (vm *VM) EvalRec(program *CompiledCode) Value {
	vm.numVals = 1
	return vm.runBoundary(program, nil)
}

// internalApplyCode stands in as the base code object when ApplyRec is
// called before any program has run.
var internalApplyCode = &CompiledCode{
	Name:     "internal-apply",
	Insns:    []Insn{{Op: OpNop}, {Op: OpRet}},
	MaxStack: defaultMaxStack,
}

func (vm *VM) applyRecInner(proc Value, nargs int) Value {
	codevec := []Insn{{Op: OpValuesApply, Arg0: nargs}, {Op: OpRet}}
	vm.val0 = proc
	program := vm.base
	if program == nil {
		program = internalApplyCode
	}
	return vm.runBoundary(program, codevec)
}

// ApplyRec calls proc with the given arguments and returns its primary
// value. The argument registers carry the call; past MaxValues-1 the
// tail rides as a list.
func (vm *VM) ApplyRec(proc Value, args ...Value) Value {
	for i, a := range args {
		if i == MaxValues-1 {
			vm.vals[i] = List(args[i:]...)
			return vm.applyRecInner(proc, len(args))
		}
		vm.vals[i] = a
	}
	return vm.applyRecInner(proc, len(args))
}

// ApplyRecList is ApplyRec over an argument list.
func (vm *VM) ApplyRecList(proc Value, args Value) Value {
	n := Length(args)
	if n < 0 {
		vm.Errorf("improper list not allowed: %s", ToString(args))
	}
	return vm.ApplyRec(proc, ListToSlice(args)...)
}

// ---------------------------------------------------------------------------
// Tail-scheduling API for native procedures
// ---------------------------------------------------------------------------

// ApplyNext arranges for proc to be applied to args as soon as the
// current native procedure returns to the loop. The caller must return
// ApplyNext's result as its own.
func (vm *VM) ApplyNext(proc Value, args ...Value) Value {
	if len(args) < len(applyCalls) {
		vm.checkStack(len(args))
		for _, a := range args {
			vm.pushArg(a)
		}
		vm.pc = applyCalls[len(args)]
		return proc
	}
	return vm.ApplyNextList(proc, List(args...))
}

// ApplyNextList is ApplyNext over an argument list.
func (vm *VM) ApplyNextList(proc Value, args Value) Value {
	if Length(args) < 0 {
		vm.Errorf("improper list not allowed: %s", ToString(args))
	}
	vm.checkStack(1)
	vm.pushArg(proc)
	vm.pc = applyCallN
	return CopyList(args)
}

// tailEval schedules program to run when the current native procedure
// returns, in the manner of ApplyNext.
func (vm *VM) tailEval(program *CompiledCode) Value {
	vm.numVals = 1
	vm.base = program
	vm.pc = program.Insns
	return Undef
}

// ---------------------------------------------------------------------------
// Safe entry points (exceptions captured)
// ---------------------------------------------------------------------------

// EvalPacket carries the outcome of a safe evaluation: either the full
// result vector, or the condition that aborted it.
type EvalPacket struct {
	Results   []Value
	Exception Value
}

// Ok reports whether the evaluation completed without raising.
func (p *EvalPacket) Ok() bool { return p.Exception == nil }

type safeRunKind int

const (
	safeRunEval safeRunKind = iota
	safeRunApply
)

type evalPacketRec struct {
	kind      safeRunKind
	program   *CompiledCode
	proc      Value
	args      Value
	exception Value
}

func safeRunThunk(vm *VM, _ []Value, data any) Value {
	epak := data.(*evalPacketRec)
	switch epak.kind {
	case safeRunEval:
		return vm.tailEval(epak.program)
	default:
		return vm.ApplyNextList(epak.proc, epak.args)
	}
}

func safeRunHandler(vm *VM, args []Value, data any) Value {
	data.(*evalPacketRec).exception = args[0]
	return Undef
}

func safeRunEntry(vm *VM, _ []Value, data any) Value {
	thunk := MakeSubr("safe-run-thunk", 0, false, safeRunThunk, data)
	handler := MakeSubr("safe-run-handler", 1, false, safeRunHandler, data)
	return vm.WithErrorHandler(handler, thunk)
}

func (vm *VM) safeRun(epak *evalPacketRec) *EvalPacket {
	entry := MakeSubr("safe-run", 0, false, safeRunEntry, epak)
	r := vm.ApplyRec(entry)
	if epak.exception != nil {
		return &EvalPacket{Exception: epak.exception}
	}
	results := make([]Value, vm.numVals)
	if vm.numVals > 0 {
		results[0] = r
		copy(results[1:], vm.vals[:vm.numVals-1])
	}
	return &EvalPacket{Results: results}
}

// Eval runs a compiled program, capturing any raised condition into the
// returned packet instead of propagating it.
func (vm *VM) Eval(program *CompiledCode) *EvalPacket {
	return vm.safeRun(&evalPacketRec{kind: safeRunEval, program: program})
}

// Apply calls proc on args, capturing any raised condition into the
// returned packet.
func (vm *VM) Apply(proc Value, args ...Value) *EvalPacket {
	return vm.safeRun(&evalPacketRec{
		kind: safeRunApply,
		proc: proc,
		args: List(args...),
	})
}
