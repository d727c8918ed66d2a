package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// dynamic-wind tests
// ---------------------------------------------------------------------------

// defineTracer installs a unary primitive that appends its argument's
// printed form to events.
func defineTracer(vm *VM, name string, events *[]string) {
	vm.Module.Define(Symbol(name),
		MakeSubr(name, 1, false, func(_ *VM, args []Value, _ any) Value {
			*events = append(*events, ToString(args[0]))
			return Undef
		}, nil))
}

func checkEvents(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestDynamicWindOrder(t *testing.T) {
	machine := testVM()
	var events []string

	before := func(vm *VM, _ []Value, _ any) Value {
		events = append(events, "before")
		return Undef
	}
	body := func(vm *VM, _ []Value, _ any) Value {
		events = append(events, "body")
		return 42
	}
	after := func(vm *VM, _ []Value, _ any) Value {
		events = append(events, "after")
		return Undef
	}

	entry := MakeSubr("entry", 0, false, func(vm *VM, _ []Value, _ any) Value {
		return vm.DynamicWindFn(before, body, after, nil)
	}, nil)

	if got := machine.ApplyRec(entry); got != 42 {
		t.Fatalf("got %v, want 42", got)
	}
	checkEvents(t, events, "before", "body", "after")
}

// Escaping the body by continuation still runs the after thunk, exactly
// once.
func TestDynamicWindContinuationEscape(t *testing.T) {
	machine := testVM()
	var events []string
	defineTracer(machine, "trace!", &events)

	// body closure: (lambda () (trace! 'body) (k 10))
	body := NewCodeBuilder("body", 0)
	l := body.NewLabel()
	body.EmitJump(OpPreCall, l)
	body.EmitLit(OpConstPush, Symbol("body"))
	body.EmitLit(OpGRef, Symbol("trace!"))
	body.EmitArg(OpCall, 1)
	body.Mark(l)
	body.EmitLit(OpConstPush, 10)
	body.EmitArgs(OpLRef, 1, 0) // k, captured from the receiver frame
	body.EmitArg(OpTailCall, 1)

	// receiver: (lambda (k)
	//   (dynamic-wind (lambda () (trace! 'before)) body (lambda () (trace! 'after))))
	tracerThunk := func(tag string) *CompiledCode {
		tb := NewCodeBuilder(tag+"-thunk", 0)
		tb.EmitLit(OpConstPush, Symbol(tag))
		tb.EmitLit(OpGRef, Symbol("trace!"))
		tb.EmitArg(OpTailCall, 1)
		return tb.Build()
	}

	recv := NewCodeBuilder("receiver", 1)
	recv.EmitLit(OpClosure, tracerThunk("before"))
	recv.Emit(OpPush)
	recv.EmitLit(OpClosure, body.Build())
	recv.Emit(OpPush)
	recv.EmitLit(OpClosure, tracerThunk("after"))
	recv.Emit(OpPush)
	recv.EmitLit(OpGRef, Symbol("dynamic-wind"))
	recv.EmitArg(OpTailCall, 3)

	// (call/cc receiver)
	b := NewCodeBuilder("main", 0)
	afterL := b.NewLabel()
	b.EmitJump(OpPreCall, afterL)
	b.EmitLit(OpClosure, recv.Build())
	b.Emit(OpPush)
	b.EmitLit(OpGRef, Symbol("call/cc"))
	b.EmitArg(OpCall, 1)
	b.Mark(afterL)
	b.Emit(OpRet)

	if got := machine.EvalRec(b.Build()); got != 10 {
		t.Fatalf("got %v, want 10", got)
	}
	checkEvents(t, events, "before", "body", "after")
}

// Re-entering a wind region through a continuation captured inside it
// runs the before thunk again, and leaving again runs the after thunk
// again.
func TestDynamicWindReentry(t *testing.T) {
	machine := testVM()
	var events []string
	defineTracer(machine, "trace!", &events)

	tracerThunk := func(tag string) *CompiledCode {
		tb := NewCodeBuilder(tag+"-thunk", 0)
		tb.EmitLit(OpConstPush, Symbol(tag))
		tb.EmitLit(OpGRef, Symbol("trace!"))
		tb.EmitArg(OpTailCall, 1)
		return tb.Build()
	}

	// grab: (lambda (c) (define reentry-k c) 0)
	grab := NewCodeBuilder("grab", 1)
	grab.EmitArgs(OpLRef, 0, 0)
	grab.EmitLit(OpDefine, Symbol("reentry-k"))
	grab.EmitLit(OpConst, 0)
	grab.Emit(OpRet)

	// body: (lambda ()
	//   (call/cc grab)
	//   (if entered (exit-k 'done) (begin (set! entered #t) 'first)))
	body := NewCodeBuilder("body", 0)
	m := body.NewLabel()
	first := body.NewLabel()
	body.EmitJump(OpPreCall, m)
	body.EmitLit(OpClosure, grab.Build())
	body.Emit(OpPush)
	body.EmitLit(OpGRef, Symbol("call/cc"))
	body.EmitArg(OpCall, 1)
	body.Mark(m)
	body.EmitLit(OpGRef, Symbol("entered"))
	body.EmitJump(OpBranchFalse, first)
	body.EmitLit(OpConstPush, Symbol("done"))
	body.EmitLit(OpGRef, Symbol("exit-k"))
	body.EmitArg(OpTailCall, 1)
	body.Mark(first)
	body.EmitLit(OpConst, true)
	body.EmitLit(OpGSet, Symbol("entered"))
	body.EmitLit(OpConst, Symbol("first"))
	body.Emit(OpRet)

	// main body under call/cc: (lambda (k0)
	//   (define exit-k k0)
	//   (dynamic-wind before body after)
	//   (reentry-k 0)
	//   'unreached)
	main := NewCodeBuilder("driver", 1)
	l1 := main.NewLabel()
	l2 := main.NewLabel()
	main.EmitArgs(OpLRef, 0, 0)
	main.EmitLit(OpDefine, Symbol("exit-k"))
	main.EmitJump(OpPreCall, l1)
	main.EmitLit(OpClosure, tracerThunk("before"))
	main.Emit(OpPush)
	main.EmitLit(OpClosure, body.Build())
	main.Emit(OpPush)
	main.EmitLit(OpClosure, tracerThunk("after"))
	main.Emit(OpPush)
	main.EmitLit(OpGRef, Symbol("dynamic-wind"))
	main.EmitArg(OpCall, 3)
	main.Mark(l1)
	main.EmitJump(OpPreCall, l2)
	main.EmitLit(OpConstPush, 0)
	main.EmitLit(OpGRef, Symbol("reentry-k"))
	main.EmitArg(OpCall, 1)
	main.Mark(l2)
	main.EmitLit(OpConst, Symbol("unreached"))
	main.Emit(OpRet)

	b := NewCodeBuilder("main", 0)
	afterL := b.NewLabel()
	b.EmitLit(OpConst, false)
	b.EmitLit(OpDefine, Symbol("entered"))
	b.EmitJump(OpPreCall, afterL)
	b.EmitLit(OpClosure, main.Build())
	b.Emit(OpPush)
	b.EmitLit(OpGRef, Symbol("call/cc"))
	b.EmitArg(OpCall, 1)
	b.Mark(afterL)
	b.Emit(OpRet)

	if got := machine.EvalRec(b.Build()); got != Symbol("done") {
		t.Fatalf("got %v, want done", got)
	}
	checkEvents(t, events, "before", "after", "before", "after")
}

// A condition raised in the body runs the after thunk; with the plain
// error handler the handler sees the condition first, with the guard
// flavor the unwinding happens first.
func TestDynamicWindConditionUnwind(t *testing.T) {
	run := func(guard bool) []string {
		machine := testVM()
		var events []string

		before := func(vm *VM, _ []Value, _ any) Value {
			events = append(events, "before")
			return Undef
		}
		body := func(vm *VM, _ []Value, _ any) Value {
			vm.Errorf("boom")
			return Undef
		}
		after := func(vm *VM, _ []Value, _ any) Value {
			events = append(events, "after")
			return Undef
		}

		handler := MakeSubr("handler", 1, false, func(vm *VM, args []Value, _ any) Value {
			events = append(events, "handler:"+ToString(args[0]))
			return Symbol("handled")
		}, nil)
		thunk := MakeSubr("thunk", 0, false, func(vm *VM, _ []Value, _ any) Value {
			return vm.DynamicWindFn(before, body, after, nil)
		}, nil)
		entry := MakeSubr("entry", 0, false, func(vm *VM, _ []Value, _ any) Value {
			if guard {
				return vm.WithGuardHandler(handler, thunk)
			}
			return vm.WithErrorHandler(handler, thunk)
		}, nil)

		if got := machine.ApplyRec(entry); got != Symbol("handled") {
			t.Fatalf("got %v, want handled", got)
		}
		return events
	}

	plain := run(false)
	checkEvents(t, plain, "before", `handler:#<condition "boom">`, "after")

	guarded := run(true)
	checkEvents(t, guarded, "before", "after", `handler:#<condition "boom">`)
}

// Nested regions unwind innermost first.
func TestDynamicWindNestedUnwindOrder(t *testing.T) {
	machine := testVM()
	var events []string

	logFn := func(tag string) SubrFn {
		return func(vm *VM, _ []Value, _ any) Value {
			events = append(events, tag)
			return Undef
		}
	}
	raiseFn := func(vm *VM, _ []Value, _ any) Value {
		vm.Errorf("boom")
		return Undef
	}
	innerThunk := func(vm *VM, _ []Value, _ any) Value {
		return vm.DynamicWindFn(logFn("before-inner"), raiseFn, logFn("after-inner"), nil)
	}
	outerThunk := MakeSubr("outer", 0, false, func(vm *VM, _ []Value, _ any) Value {
		return vm.DynamicWindFn(logFn("before-outer"), innerThunk, logFn("after-outer"), nil)
	}, nil)

	handler := MakeSubr("handler", 1, false, func(vm *VM, _ []Value, _ any) Value {
		events = append(events, "handler")
		return Undef
	}, nil)
	entry := MakeSubr("entry", 0, false, func(vm *VM, _ []Value, _ any) Value {
		return vm.WithGuardHandler(handler, outerThunk)
	}, nil)

	machine.ApplyRec(entry)
	checkEvents(t, events,
		"before-outer", "before-inner", "after-inner", "after-outer", "handler")
}

// The after thunk must not clobber the body's result vector.
func TestDynamicWindPreservesValues(t *testing.T) {
	machine := testVM()

	body := func(vm *VM, _ []Value, _ any) Value {
		return vm.Values3(1, 2, 3)
	}
	after := func(vm *VM, _ []Value, _ any) Value {
		return vm.Values2(Symbol("a"), Symbol("b"))
	}
	entry := MakeSubr("entry", 0, false, func(vm *VM, _ []Value, _ any) Value {
		return vm.DynamicWindFn(nil, body, after, nil)
	}, nil)

	got := machine.ApplyRec(entry)
	if got != 1 {
		t.Fatalf("primary value %v, want 1", got)
	}
	results := machine.Results()
	if len(results) != 3 || results[1] != 2 || results[2] != 3 {
		t.Fatalf("results = %v, want [1 2 3]", results)
	}
}

func TestDynamicWindScheme(t *testing.T) {
	machine := testVM()
	var events []string
	defineTracer(machine, "trace!", &events)

	thunk := func(tag string, result Value) *CompiledCode {
		tb := NewCodeBuilder(tag+"-thunk", 0)
		l := tb.NewLabel()
		tb.EmitJump(OpPreCall, l)
		tb.EmitLit(OpConstPush, Symbol(tag))
		tb.EmitLit(OpGRef, Symbol("trace!"))
		tb.EmitArg(OpCall, 1)
		tb.Mark(l)
		tb.EmitLit(OpConst, result)
		tb.Emit(OpRet)
		return tb.Build()
	}

	b := NewCodeBuilder("main", 0)
	afterL := b.NewLabel()
	b.EmitJump(OpPreCall, afterL)
	b.EmitLit(OpClosure, thunk("before", Undef))
	b.Emit(OpPush)
	b.EmitLit(OpClosure, thunk("body", 42))
	b.Emit(OpPush)
	b.EmitLit(OpClosure, thunk("after", Undef))
	b.Emit(OpPush)
	b.EmitLit(OpGRef, Symbol("dynamic-wind"))
	b.EmitArg(OpCall, 3)
	b.Mark(afterL)
	b.Emit(OpRet)

	if got := machine.EvalRec(b.Build()); got != 42 {
		t.Fatalf("got %v, want 42", got)
	}
	checkEvents(t, events, "before", "body", "after")
}

func TestConditionErrorString(t *testing.T) {
	c := &Condition{Message: "boom"}
	var err error = c
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Error() = %q", err.Error())
	}
}
