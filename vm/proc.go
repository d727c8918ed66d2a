package vm

// ---------------------------------------------------------------------------
// Procedures
// ---------------------------------------------------------------------------

// Closure is a compiled procedure together with its captured environment.
// The environment is always a heap chain (getEnv runs at capture time).
type Closure struct {
	Code *CompiledCode
	Env  *envFrame
}

// MakeClosure closes code over env.
func MakeClosure(code *CompiledCode, env *envFrame) *Closure {
	return &Closure{Code: code, Env: env}
}

// SubrFn is the body of a native procedure. It runs inside the dispatch
// loop with the argument frame already popped; args is a private copy.
// The returned value becomes val0. A SubrFn may schedule further work
// with ApplyNext/PushCC instead of computing a value directly.
type SubrFn func(vm *VM, args []Value, data any) Value

// Subr is a native procedure.
type Subr struct {
	Name     string
	Fn       SubrFn
	Data     any
	Required int
	Optional bool
}

// MakeSubr wraps a native function as a procedure taking required
// arguments, plus a rest list folded into the last slot when optional.
func MakeSubr(name string, required int, optional bool, fn SubrFn, data any) *Subr {
	return &Subr{Name: name, Fn: fn, Data: data, Required: required, Optional: optional}
}

// applyProc applies proc to the argc arguments sitting in the window
// [argp,sp). For closures it completes the environment frame and jumps;
// for native procedures it invokes the function in place.
func (vm *VM) applyProc(proc Value, argc int) {
	switch p := proc.(type) {
	case *Closure:
		vm.adjustArgFrame(proc, p.Code.ReqArgs, p.Code.Optional, argc)
		vm.checkStack(p.Code.MaxStack)
		vm.finishEnv(Symbol(p.Code.Name), p.Env)
		vm.base = p.Code
		vm.pc = p.Code.Insns
	case *Subr:
		vm.adjustArgFrame(proc, p.Required, p.Optional, argc)
		n := vm.sp - vm.argp
		args := make([]Value, n)
		copy(args, vm.stack[vm.argp:vm.sp])
		vm.sp = vm.argp
		vm.pc = returnInsns
		vm.numVals = 1
		vm.val0 = p.Fn(vm, args, p.Data)
	default:
		vm.Errorf("invalid application: %s", ToString(proc))
	}
}

// adjustArgFrame validates arity and folds extra arguments into a rest
// list when the procedure takes one.
func (vm *VM) adjustArgFrame(proc Value, required int, optional bool, argc int) {
	if !optional {
		if argc != required {
			vm.Errorf("wrong number of arguments for %s (required %d, got %d)",
				ToString(proc), required, argc)
		}
		return
	}
	if argc < required {
		vm.Errorf("wrong number of arguments for %s (required at least %d, got %d)",
			ToString(proc), required, argc)
	}
	var rest Value = Nil
	for vm.sp > vm.argp+required {
		vm.sp--
		rest = Cons(vm.stack[vm.sp], rest)
		vm.stack[vm.sp] = nil
	}
	vm.pushArg(rest)
}
