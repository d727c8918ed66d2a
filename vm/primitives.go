package vm

// ---------------------------------------------------------------------------
// Primitive procedures
// ---------------------------------------------------------------------------
//
// The primitives cover the control operators the core owns plus the
// handful of list operations the test and tooling surface needs. A
// compiler front end defines everything else.

// InstallPrimitives defines the standard primitives into m.
func InstallPrimitives(m *Module) {
	def := func(name string, required int, optional bool, fn SubrFn) {
		m.Define(Symbol(name), MakeSubr(name, required, optional, fn, nil))
	}

	def("call/cc", 1, false, func(vm *VM, args []Value, _ any) Value {
		return vm.CallCC(args[0])
	})
	def("call-with-current-continuation", 1, false, func(vm *VM, args []Value, _ any) Value {
		return vm.CallCC(args[0])
	})
	def("call/pc", 1, false, func(vm *VM, args []Value, _ any) Value {
		return vm.CallPC(args[0])
	})
	def("dynamic-wind", 3, false, func(vm *VM, args []Value, _ any) Value {
		return vm.DynamicWind(args[0], args[1], args[2])
	})
	def("values", 0, true, func(vm *VM, args []Value, _ any) Value {
		return vm.ValuesList(args[0])
	})
	def("raise", 1, false, func(vm *VM, args []Value, _ any) Value {
		return vm.Raise(args[0])
	})
	def("raise-continuable", 1, false, func(vm *VM, args []Value, _ any) Value {
		if c, ok := args[0].(*Condition); ok && !c.Continuable {
			vm.Errorf("raise-continuable on a non-continuable condition: %s",
				ToString(args[0]))
		}
		return vm.Raise(args[0])
	})
	def("error", 1, true, func(vm *VM, args []Value, _ any) Value {
		msg, ok := args[0].(string)
		if !ok {
			msg = ToString(args[0])
		}
		vm.throwException(&Condition{Message: msg, Irritants: args[1]})
		return Undef
	})
	def("with-error-handler", 2, false, func(vm *VM, args []Value, _ any) Value {
		return vm.WithErrorHandler(args[0], args[1])
	})
	def("with-exception-handler", 2, false, func(vm *VM, args []Value, _ any) Value {
		return vm.WithExceptionHandler(args[0], args[1])
	})
	def("apply", 1, true, func(vm *VM, args []Value, _ any) Value {
		// Last element of the rest list is itself a list of arguments.
		spread := ListToSlice(args[1])
		if n := len(spread); n > 0 {
			last := spread[n-1]
			spread = spread[:n-1]
			spread = append(spread, ListToSlice(last)...)
		}
		return vm.ApplyNext(args[0], spread...)
	})

	def("cons", 2, false, func(vm *VM, args []Value, _ any) Value {
		return Cons(args[0], args[1])
	})
	def("car", 1, false, func(vm *VM, args []Value, _ any) Value {
		p, ok := args[0].(*Pair)
		if !ok {
			vm.Errorf("car requires a pair, got %s", ToString(args[0]))
		}
		return p.Car
	})
	def("cdr", 1, false, func(vm *VM, args []Value, _ any) Value {
		p, ok := args[0].(*Pair)
		if !ok {
			vm.Errorf("cdr requires a pair, got %s", ToString(args[0]))
		}
		return p.Cdr
	})
	def("list", 0, true, func(vm *VM, args []Value, _ any) Value {
		return args[0]
	})
	def("not", 1, false, func(vm *VM, args []Value, _ any) Value {
		return Falsy(args[0])
	})
	def("null?", 1, false, func(vm *VM, args []Value, _ any) Value {
		_, ok := args[0].(nilType)
		return ok
	})
	def("eq?", 2, false, func(vm *VM, args []Value, _ any) Value {
		return args[0] == args[1]
	})
}
