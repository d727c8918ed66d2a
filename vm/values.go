package vm

// ---------------------------------------------------------------------------
// Multiple values
// ---------------------------------------------------------------------------
//
// The result vector is bounded: one primary value plus MaxValues-1
// register slots. Producing more than MaxValues values raises a
// condition rather than truncating.

// ValuesList yields the elements of args as the current values. The
// primary value is returned; the rest land in the register file.
func (vm *VM) ValuesList(args Value) Value {
	first, ok := args.(*Pair)
	if !ok {
		vm.numVals = 0
		return Undef
	}
	nvals := 1
	for cp := first.Cdr; ; {
		p, ok := cp.(*Pair)
		if !ok {
			break
		}
		if nvals >= MaxValues {
			vm.Errorf("too many values: %s", ToString(args))
		}
		vm.vals[nvals-1] = p.Car
		nvals++
		cp = p.Cdr
	}
	vm.numVals = nvals
	return first.Car
}

// Values yields the given values.
func (vm *VM) Values(vals ...Value) Value {
	if len(vals) == 0 {
		vm.numVals = 0
		return Undef
	}
	if len(vals) > MaxValues {
		vm.Errorf("too many values: %s", ToString(List(vals...)))
	}
	copy(vm.vals[:], vals[1:])
	vm.numVals = len(vals)
	return vals[0]
}

// Values2 through Values5 are shorthands for the common small arities.

func (vm *VM) Values2(v0, v1 Value) Value {
	vm.numVals = 2
	vm.vals[0] = v1
	return v0
}

func (vm *VM) Values3(v0, v1, v2 Value) Value {
	vm.numVals = 3
	vm.vals[0] = v1
	vm.vals[1] = v2
	return v0
}

func (vm *VM) Values4(v0, v1, v2, v3 Value) Value {
	vm.numVals = 4
	vm.vals[0] = v1
	vm.vals[1] = v2
	vm.vals[2] = v3
	return v0
}

func (vm *VM) Values5(v0, v1, v2, v3, v4 Value) Value {
	vm.numVals = 5
	vm.vals[0] = v1
	vm.vals[1] = v2
	vm.vals[2] = v3
	vm.vals[3] = v4
	return v0
}
