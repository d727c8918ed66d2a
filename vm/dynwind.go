package vm

// ---------------------------------------------------------------------------
// dynamic-wind
// ---------------------------------------------------------------------------
//
// A wind region is a (before . after) pair pushed on vm.handlers for the
// extent of the body. Continuation throws diff the current chain against
// the captured one by pair identity to decide which afters and befores
// to run (cont.go). The implementation is three chained native
// continuations, so the thunks run as ordinary procedure calls with the
// loop in control the whole time.

// DynamicWind calls before, then body, then after, returning body's
// values. After runs whenever control leaves the body, including by
// continuation or condition; before runs again if control re-enters.
func (vm *VM) DynamicWind(before, body, after Value) Value {
	vm.PushCC(dynwindBeforeCC, before, body, after)
	return vm.ApplyNext(before)
}

func dynwindBeforeCC(vm *VM, _ Value, data []any) Value {
	before := data[0].(Value)
	body := data[1].(Value)
	after := data[2].(Value)

	prev := vm.handlers
	vm.handlers = Cons(Cons(before, after), prev)
	vm.PushCC(dynwindBodyCC, after, prev)
	return vm.ApplyNext(body)
}

func dynwindBodyCC(vm *VM, result Value, data []any) Value {
	after := data[0].(Value)
	prev := data[1].(Value)

	vm.handlers = prev
	var extra []Value
	if vm.numVals > 1 {
		extra = make([]Value, vm.numVals-1)
		copy(extra, vm.vals[:vm.numVals-1])
	}
	vm.PushCC(dynwindAfterCC, result, vm.numVals, extra)
	return vm.ApplyNext(after)
}

func dynwindAfterCC(vm *VM, _ Value, data []any) Value {
	result := data[0].(Value)
	vm.numVals = data[1].(int)
	if extra, ok := data[2].([]Value); ok {
		copy(vm.vals[:], extra)
	}
	return result
}

// DynamicWindFn is DynamicWind over native functions, for callers that
// have no procedure objects at hand.
func (vm *VM) DynamicWindFn(before, body, after SubrFn, data any) Value {
	wrap := func(fn SubrFn, name string) Value {
		if fn == nil {
			return MakeSubr(name, 0, false, nullSubrFn, nil)
		}
		return MakeSubr(name, 0, false, fn, data)
	}
	return vm.DynamicWind(
		wrap(before, "dynamic-wind-before"),
		wrap(body, "dynamic-wind-body"),
		wrap(after, "dynamic-wind-after"))
}

func nullSubrFn(_ *VM, _ []Value, _ any) Value { return Undef }
