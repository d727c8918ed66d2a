package vm

import "fmt"

// ---------------------------------------------------------------------------
// Conditions and escape points
// ---------------------------------------------------------------------------
//
// Two handler mechanisms coexist, mirroring the SRFI-18 / SRFI-34 split:
//
//   - WithExceptionHandler installs the low-level current handler. It
//     runs in the dynamic environment of the raise, itself still
//     current, so an unconditional re-raise inside it loops. Returning
//     from it on a serious condition is an error.
//
//   - WithErrorHandler / WithGuardHandler install an escape point. The
//     handler runs with the escape point popped, and its values are
//     delivered to the continuation captured at installation. The guard
//     flavor rewinds the dynamic-wind chain before the handler runs;
//     the plain flavor rewinds after.

// Condition is a raised condition. A non-continuable (serious)
// condition never returns to the raise point.
type Condition struct {
	Message     string
	Irritants   Value
	Continuable bool
}

// Error makes conditions usable where a Go error is reported.
func (c *Condition) Error() string { return c.Message }

func isSeriousCondition(v Value) bool {
	c, ok := v.(*Condition)
	return ok && !c.Continuable
}

// escapePoint is one installed error handler plus everything needed to
// resume at its installation point: the continuation, the dynamic-wind
// chain, and the owning boundary.
type escapePoint struct {
	prev           *escapePoint
	floating       *escapePoint
	ehandler       Value
	handlers       Value
	cstack         *cStack
	xhandler       Value
	cont           *contFrame
	rewindBefore   bool
	errorReporting bool
}

// ---------------------------------------------------------------------------
// Raising
// ---------------------------------------------------------------------------

// Raise throws exc at the current handler. For continuable conditions
// under a low-level handler, Raise returns the handler's value.
func (vm *VM) Raise(exc Value) Value {
	return vm.throwException(exc)
}

// Errorf raises a serious condition with a formatted message. It never
// returns.
func (vm *VM) Errorf(format string, args ...any) {
	vm.throwException(&Condition{Message: fmt.Sprintf(format, args...)})
	panic("vm: serious condition raise returned")
}

func (vm *VM) throwException(exc Value) Value {
	if vm.xhandler != nil {
		vm.val0 = vm.ApplyRec(vm.xhandler, exc)
		if isSeriousCondition(exc) {
			// The handler returned where it must not. Reset it so the
			// raise below reaches the default machinery.
			vm.xhandler = nil
			vm.Errorf("user-defined exception handler returned on non-continuable exception %s",
				ToString(exc))
		}
		return vm.val0
	}
	if !isSeriousCondition(exc) {
		for ep := vm.escapePoint; ep != nil; ep = ep.prev {
			if ep.xhandler != nil {
				return vm.ApplyRec(ep.xhandler, exc)
			}
		}
	}
	vm.defaultExceptionHandler(exc)
	return Undef
}

// defaultExceptionHandler transfers control to the nearest escape
// point, or reports the condition and unwinds everything when there is
// none. It leaves by escape panic or process exit, never by return to
// interpreted code.
func (vm *VM) defaultExceptionHandler(exc Value) {
	ep := vm.escapePoint
	if ep != nil {
		if ep.rewindBefore {
			vm.unwindHandlers(ep.handlers)
		}

		// Pop the escape point before running its handler, so a raise
		// inside the handler goes to the next one out. The floating
		// link keeps ep.cont visible to stack relocation meanwhile.
		vm.escapePoint = ep.prev
		vm.floatingEP = ep

		var result Value
		var extra []Value
		numVals := 0
		func() {
			defer func() {
				if r := recover(); r != nil {
					vm.floatingEP = ep.floating
					panic(r)
				}
			}()
			result = vm.ApplyRec(ep.ehandler, exc)
			numVals = vm.numVals
			if numVals > 1 {
				extra = make([]Value, numVals-1)
				copy(extra, vm.vals[:numVals-1])
			}
			if !ep.rewindBefore {
				vm.unwindHandlers(ep.handlers)
			}
		}()

		copy(vm.vals[:], extra)
		vm.numVals = numVals
		vm.val0 = result
		vm.cont = ep.cont
		vm.floatingEP = ep.floating
		if ep.errorReporting {
			vm.errorBeingReported = true
		}
	} else {
		vm.reportError(exc)
		vm.unwindHandlers(Nil)
	}

	if vm.cstack != nil {
		vm.escapeReason = escapeError
		vm.escapeEP = ep
		vm.escapeValue = exc
		panic(escapeSignal{vm})
	}
	vm.exitHook(exSoftware)
	panic("vm: exit hook returned")
}

// unwindHandlers pops and runs after thunks down to target, which must
// be a tail of the current chain.
func (vm *VM) unwindHandlers(target Value) {
	hp := vm.handlers
	for hp != target {
		p, ok := hp.(*Pair)
		if !ok {
			break
		}
		after := p.Car.(*Pair).Cdr
		vm.handlers = p.Cdr
		vm.ApplyRec(after)
		hp = p.Cdr
	}
}

// reportError writes an uncaught-condition report to the diagnostic
// stream. A condition raised while a report is already in progress
// (an after thunk failing during the unwind, say) must not start
// another report cycle.
func (vm *VM) reportError(exc Value) {
	if vm.errorBeingReported {
		fmt.Fprintf(vm.diag, "*** ERROR: condition raised while reporting a condition: %s\n",
			ToString(exc))
		vm.exitHook(exSoftware)
		panic("vm: exit hook returned")
	}
	vm.errorBeingReported = true
	if c, ok := exc.(*Condition); ok {
		fmt.Fprintf(vm.diag, "*** ERROR: %s\n", c.Message)
		if _, ok := c.Irritants.(*Pair); ok {
			fmt.Fprintf(vm.diag, "    irritants: %s\n", ToString(c.Irritants))
		}
	} else {
		fmt.Fprintf(vm.diag, "*** ERROR: uncaught exception: %s\n", ToString(exc))
	}
	for _, info := range ListToSlice(vm.GetStackLite()) {
		fmt.Fprintf(vm.diag, "    at %s\n", ToString(info))
	}
}

// ---------------------------------------------------------------------------
// Handler installation
// ---------------------------------------------------------------------------

func installEHandler(vm *VM, _ []Value, data any) Value {
	ep := data.(*escapePoint)
	vm.xhandler = nil
	vm.escapePoint = ep
	vm.errorBeingReported = false
	return Undef
}

func discardEHandler(vm *VM, _ []Value, data any) Value {
	ep := data.(*escapePoint)
	vm.escapePoint = ep.prev
	vm.xhandler = ep.xhandler
	if ep.errorReporting {
		vm.errorBeingReported = true
	}
	return Undef
}

func (vm *VM) withErrorHandler(handler, thunk Value, rewindBefore bool) Value {
	ep := &escapePoint{
		prev:           vm.escapePoint,
		floating:       vm.floatingEP,
		ehandler:       handler,
		handlers:       vm.handlers,
		cstack:         vm.cstack,
		xhandler:       vm.xhandler,
		cont:           vm.cont,
		rewindBefore:   rewindBefore,
		errorReporting: vm.errorBeingReported,
	}

	// Chain it now, ahead of install running, so relocation already
	// redirects ep.cont.
	vm.escapePoint = ep

	before := MakeSubr("install-error-handler", 0, false, installEHandler, ep)
	after := MakeSubr("discard-error-handler", 0, false, discardEHandler, ep)
	return vm.DynamicWind(before, thunk, after)
}

// WithErrorHandler runs thunk with handler catching serious conditions.
// The dynamic-wind chain unwinds after the handler has run.
func (vm *VM) WithErrorHandler(handler, thunk Value) Value {
	return vm.withErrorHandler(handler, thunk, false)
}

// WithGuardHandler is WithErrorHandler with the dynamic-wind chain
// rewound before the handler runs, the way guard clauses expect.
func (vm *VM) WithGuardHandler(handler, thunk Value) Value {
	return vm.withErrorHandler(handler, thunk, true)
}

func installXHandler(vm *VM, _ []Value, data any) Value {
	if data == nil {
		vm.xhandler = nil
	} else {
		vm.xhandler = data.(Value)
	}
	return Undef
}

// WithExceptionHandler runs thunk with handler as the low-level current
// exception handler.
func (vm *VM) WithExceptionHandler(handler, thunk Value) Value {
	current := vm.xhandler
	before := MakeSubr("install-exception-handler", 0, false, installXHandler, handler)
	var curData any
	if current != nil {
		curData = current
	}
	after := MakeSubr("restore-exception-handler", 0, false, installXHandler, curData)
	return vm.DynamicWind(before, thunk, after)
}
