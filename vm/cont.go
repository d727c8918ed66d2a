package vm

// ---------------------------------------------------------------------------
// First-class continuations
// ---------------------------------------------------------------------------

// memqTail returns the tail of list whose car is identical to obj, or
// nil.
func memqTail(obj, list Value) *Pair {
	t, _ := Memq(obj, list).(*Pair)
	return t
}

// throwContCalculateHandlers diffs the current dynamic-wind chain
// against the target's. It returns a list of (thunk . chain) entries to
// run in order: afters of the regions being left, innermost first, then
// befores of the regions being entered, outermost first. Each entry's
// chain is the handler state the thunk must run under.
func (vm *VM) throwContCalculateHandlers(ep *escapePoint) Value {
	target := Reverse(ep.handlers)
	current := vm.handlers
	var thunks []Value

	for p := current; ; {
		pp, ok := p.(*Pair)
		if !ok {
			break
		}
		if memqTail(pp.Car, target) != nil {
			break
		}
		pair := pp.Car.(*Pair)
		thunks = append(thunks, Cons(pair.Cdr, pp.Cdr))
		p = pp.Cdr
	}
	for p := target; ; {
		pp, ok := p.(*Pair)
		if !ok {
			break
		}
		if memqTail(pp.Car, current) == nil {
			chain := memqTail(pp.Car, ep.handlers)
			pair := pp.Car.(*Pair)
			thunks = append(thunks, Cons(pair.Car, chain.Cdr))
		}
		p = pp.Cdr
	}
	return List(thunks...)
}

// throwContBody runs the pending wind thunks one by one, then installs
// the target continuation and delivers args to it as values.
func (vm *VM) throwContBody(handlers Value, ep *escapePoint, args Value) Value {
	if hp, ok := handlers.(*Pair); ok {
		entry := hp.Car.(*Pair)
		thunk, chain := entry.Car, entry.Cdr
		vm.PushCC(throwContCC, hp.Cdr, ep, args)
		vm.handlers = chain
		return vm.ApplyNext(thunk)
	}

	// A partial continuation's frames must survive re-invocation, so
	// they go to the heap before the current stack state is reused.
	if ep.cstack == nil {
		vm.saveCont()
	}

	vm.pc = returnInsns
	vm.cont = ep.cont
	vm.handlers = ep.handlers

	nargs := Length(args)
	switch {
	case nargs == 1:
		return args.(*Pair).Car
	case nargs < 1:
		return Undef
	case nargs >= MaxValues:
		vm.Errorf("too many values passed to the continuation")
	}
	i := 0
	for ap := args.(*Pair).Cdr; ; {
		p, ok := ap.(*Pair)
		if !ok {
			break
		}
		vm.vals[i] = p.Car
		i++
		ap = p.Cdr
	}
	vm.numVals = nargs
	return args.(*Pair).Car
}

func throwContCC(vm *VM, _ Value, data []any) Value {
	handlers := data[0].(Value)
	ep := data[1].(*escapePoint)
	args := data[2].(Value)
	return vm.throwContBody(handlers, ep, args)
}

// throwContinuation is the body of every continuation procedure. When
// the target lives under an outer boundary, the transfer unwinds the
// native stack first; when its boundary is gone entirely, the
// continuation is a ghost and runs here, to be caught if it tries to
// return across the dead boundary.
func throwContinuation(vm *VM, args []Value, data any) Value {
	ep := data.(*escapePoint)
	argList := args[0]

	if ep.cstack != nil && vm.cstack != ep.cstack {
		found := false
		for cs := vm.cstack; cs != nil; cs = cs.prev {
			if cs == ep.cstack {
				found = true
				break
			}
		}
		if found {
			vm.escapeReason = escapeCont
			vm.escapeEP = ep
			vm.escapeValue = argList
			panic(escapeSignal{vm})
		}
	}
	return vm.throwContBody(vm.throwContCalculateHandlers(ep), ep, argList)
}

// CallCC captures the full current continuation and applies proc to it.
func (vm *VM) CallCC(proc Value) Value {
	vm.saveCont()
	ep := &escapePoint{
		ehandler: false,
		cont:     vm.cont,
		handlers: vm.handlers,
		cstack:   vm.cstack,
	}
	contproc := MakeSubr("continuation", 0, true, throwContinuation, ep)
	return vm.ApplyNext(proc, contproc)
}

// CallPC captures the continuation up to the nearest boundary frame and
// applies proc to it. The captured procedure is composable: it returns
// to its caller's boundary when the captured slice runs out, and it is
// not tied to any native stack state.
func (vm *VM) CallPC(proc Value) Value {
	vm.saveCont()

	var c, cp *contFrame
	for c, cp = vm.cont, nil; c != nil && !isBoundaryPC(c.pc); cp, c = c, c.prev {
	}
	if cp != nil {
		cp.prev = nil
	}

	ep := &escapePoint{
		ehandler: false,
		cont:     vm.cont,
		handlers: vm.handlers,
		cstack:   nil,
	}
	contproc := MakeSubr("partial continuation", 0, true, throwContinuation, ep)

	// The captured slice is detached; execution resumes below it. c is
	// nil when a partial continuation was already running, in which
	// case the boundary restores its own state.
	vm.cont = c
	return vm.ApplyNext(proc, contproc)
}
