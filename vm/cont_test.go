package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// First-class continuation tests
// ---------------------------------------------------------------------------

// callCCAdd builds
//
//	(+ 1 (call/cc f))
//
// around the given receiver code.
func callCCAdd(f *CompiledCode) *CompiledCode {
	b := NewCodeBuilder("main", 0)
	afterL := b.NewLabel()
	b.EmitLit(OpConstPush, 1)
	b.EmitJump(OpPreCall, afterL)
	b.EmitLit(OpClosure, f)
	b.Emit(OpPush)
	b.EmitLit(OpGRef, Symbol("call/cc"))
	b.EmitArg(OpCall, 1)
	b.Mark(afterL)
	b.Emit(OpNumAdd2)
	b.Emit(OpRet)
	return b.Build()
}

// (+ 1 (call/cc (lambda (k) (k 10) 999))) is 11: the escape discards the
// rest of the receiver body.
func TestCallCCEscape(t *testing.T) {
	f := NewCodeBuilder("receiver", 1)
	ignored := f.NewLabel()
	f.EmitJump(OpPreCall, ignored)
	f.EmitLit(OpConstPush, 10)
	f.EmitArgs(OpLRef, 0, 0) // k
	f.EmitArg(OpCall, 1)
	f.Mark(ignored)
	f.EmitLit(OpConst, 999)
	f.Emit(OpRet)

	if got := testVM().EvalRec(callCCAdd(f.Build())); got != 11 {
		t.Fatalf("got %v, want 11", got)
	}
}

// (+ 1 (call/cc (lambda (k) 999))) is 1000: an unused continuation is a
// normal return.
func TestCallCCNormalReturn(t *testing.T) {
	f := NewCodeBuilder("receiver", 1)
	f.EmitLit(OpConst, 999)
	f.Emit(OpRet)

	if got := testVM().EvalRec(callCCAdd(f.Build())); got != 1000 {
		t.Fatalf("got %v, want 1000", got)
	}
}

// A continuation thrown from inside a nested native re-entry must unwind
// that re-entry before delivering its value.
func TestCallCCAcrossNativeBoundary(t *testing.T) {
	machine := testVM()
	machine.Module.Define(Symbol("poke"),
		MakeSubr("poke", 1, false, func(vm *VM, args []Value, _ any) Value {
			return vm.ApplyRec(args[0], 10)
		}, nil))

	f := NewCodeBuilder("receiver", 1)
	f.EmitArgs(OpLRef, 0, 0)
	f.Emit(OpPush)
	f.EmitLit(OpGRef, Symbol("poke"))
	f.EmitArg(OpTailCall, 1)

	if got := machine.EvalRec(callCCAdd(f.Build())); got != 11 {
		t.Fatalf("got %v, want 11", got)
	}
}

// A throw under two nested re-entries peels one native frame per
// boundary on the way to the continuation's owner.
func TestCallCCAcrossTwoNativeBoundaries(t *testing.T) {
	machine := testVM()
	machine.Module.Define(Symbol("poke-twice"),
		MakeSubr("poke-twice", 1, false, func(vm *VM, args []Value, _ any) Value {
			inner := MakeSubr("poke-inner", 1, false, func(vm *VM, args []Value, _ any) Value {
				return vm.ApplyRec(args[0], 10)
			}, nil)
			return vm.ApplyRec(inner, args[0])
		}, nil))

	f := NewCodeBuilder("receiver", 1)
	f.EmitArgs(OpLRef, 0, 0)
	f.Emit(OpPush)
	f.EmitLit(OpGRef, Symbol("poke-twice"))
	f.EmitArg(OpTailCall, 1)

	if got := machine.EvalRec(callCCAdd(f.Build())); got != 11 {
		t.Fatalf("got %v, want 11", got)
	}
}

type exitSentinel struct{ code int }

// Invoking a continuation after its owning native call has returned runs
// the interpreted part but may not return across the dead boundary. The
// throw first unwinds every wind region entered since, so the resulting
// condition is uncatchable and surfaces at the outermost boundary.
func TestGhostContinuation(t *testing.T) {
	machine := testVM()
	var diag strings.Builder
	machine.SetDiagnosticOutput(&diag)
	machine.exitHook = func(code int) { panic(exitSentinel{code}) }

	// (call/cc (lambda (k) (define saved-k k) 1))
	f := NewCodeBuilder("grab", 1)
	f.EmitArgs(OpLRef, 0, 0)
	f.EmitLit(OpDefine, Symbol("saved-k"))
	f.EmitLit(OpConst, 1)
	f.Emit(OpRet)

	b := NewCodeBuilder("main", 0)
	afterL := b.NewLabel()
	b.EmitJump(OpPreCall, afterL)
	b.EmitLit(OpClosure, f.Build())
	b.Emit(OpPush)
	b.EmitLit(OpGRef, Symbol("call/cc"))
	b.EmitArg(OpCall, 1)
	b.Mark(afterL)
	b.Emit(OpRet)

	if got := machine.EvalRec(b.Build()); got != 1 {
		t.Fatalf("setup got %v, want 1", got)
	}

	// (saved-k 42) from a fresh evaluation.
	reinvoke := NewCodeBuilder("reinvoke", 0)
	l := reinvoke.NewLabel()
	reinvoke.EmitJump(OpPreCall, l)
	reinvoke.EmitLit(OpConstPush, 42)
	reinvoke.EmitLit(OpGRef, Symbol("saved-k"))
	reinvoke.EmitArg(OpCall, 1)
	reinvoke.Mark(l)
	reinvoke.Emit(OpRet)

	func() {
		defer func() {
			r := recover()
			s, ok := r.(exitSentinel)
			if !ok {
				t.Fatalf("recover() = %v, want exit sentinel", r)
			}
			if s.code != 70 {
				t.Fatalf("exit code = %d, want 70", s.code)
			}
		}()
		machine.EvalRec(reinvoke.Build())
		t.Fatal("reinvocation returned normally")
	}()

	if !strings.Contains(diag.String(), "ghost continuation") {
		t.Fatalf("diagnostics do not mention the ghost:\n%s", diag.String())
	}
}

// A partial continuation captures only up to the boundary: the first run
// skips the delimited context, and invoking it later replays that context
// composably, any number of times.
func TestPartialContinuation(t *testing.T) {
	machine := testVM()

	// (+ 10 (call/pc (lambda (k) (define saved-pk k) 1)))
	f := NewCodeBuilder("grab", 1)
	f.EmitArgs(OpLRef, 0, 0)
	f.EmitLit(OpDefine, Symbol("saved-pk"))
	f.EmitLit(OpConst, 1)
	f.Emit(OpRet)

	b := NewCodeBuilder("main", 0)
	afterL := b.NewLabel()
	b.EmitLit(OpConstPush, 10)
	b.EmitJump(OpPreCall, afterL)
	b.EmitLit(OpClosure, f.Build())
	b.Emit(OpPush)
	b.EmitLit(OpGRef, Symbol("call/pc"))
	b.EmitArg(OpCall, 1)
	b.Mark(afterL)
	b.Emit(OpNumAdd2)
	b.Emit(OpRet)

	// The pending (+ 10 _) belongs to the captured slice, so the
	// receiver's value surfaces directly.
	if got := machine.EvalRec(b.Build()); got != 1 {
		t.Fatalf("initial run got %v, want 1", got)
	}

	invoke := func(n int) Value {
		c := NewCodeBuilder("invoke", 0)
		l := c.NewLabel()
		c.EmitJump(OpPreCall, l)
		c.EmitLit(OpConstPush, n)
		c.EmitLit(OpGRef, Symbol("saved-pk"))
		c.EmitArg(OpCall, 1)
		c.Mark(l)
		c.Emit(OpRet)
		return machine.EvalRec(c.Build())
	}

	if got := invoke(5); got != 15 {
		t.Fatalf("first invocation got %v, want 15", got)
	}
	if got := invoke(7); got != 17 {
		t.Fatalf("second invocation got %v, want 17", got)
	}
}

// A continuation receiving several arguments delivers them as values.
func TestContinuationMultipleValues(t *testing.T) {
	// (call/cc (lambda (k) (k 1 2) 999))
	f := NewCodeBuilder("receiver", 1)
	ignored := f.NewLabel()
	f.EmitJump(OpPreCall, ignored)
	f.EmitLit(OpConstPush, 1)
	f.EmitLit(OpConstPush, 2)
	f.EmitArgs(OpLRef, 0, 0)
	f.EmitArg(OpCall, 2)
	f.Mark(ignored)
	f.EmitLit(OpConst, 999)
	f.Emit(OpRet)

	b := NewCodeBuilder("main", 0)
	afterL := b.NewLabel()
	b.EmitJump(OpPreCall, afterL)
	b.EmitLit(OpClosure, f.Build())
	b.Emit(OpPush)
	b.EmitLit(OpGRef, Symbol("call/cc"))
	b.EmitArg(OpCall, 1)
	b.Mark(afterL)
	b.Emit(OpRet)

	machine := testVM()
	got := machine.EvalRec(b.Build())
	if got != 1 {
		t.Fatalf("primary value %v, want 1", got)
	}
	results := machine.Results()
	if len(results) != 2 || results[1] != 2 {
		t.Fatalf("results = %v, want [1 2]", results)
	}
}

// Generator built from repeated partial-continuation capture: each resume
// enters the loop body exactly once more.
func TestPartialContinuationGenerator(t *testing.T) {
	machine := testVM()

	var yielded []Value
	machine.Module.Define(Symbol("note!"),
		MakeSubr("note!", 1, false, func(vm *VM, args []Value, _ any) Value {
			yielded = append(yielded, args[0])
			return Undef
		}, nil))

	// (define (gen n)
	//   (note! n)
	//   (call/pc (lambda (k) (define resume k) n))
	//   (gen (+ n 1)))     ; runs only when resumed
	grab := NewCodeBuilder("grab", 1)
	grab.EmitArgs(OpLRef, 0, 0)
	grab.EmitLit(OpDefine, Symbol("resume"))
	grab.EmitArgs(OpLRef, 1, 0) // n
	grab.Emit(OpRet)

	gen := NewCodeBuilder("gen", 1)
	l1 := gen.NewLabel()
	l2 := gen.NewLabel()
	gen.EmitJump(OpPreCall, l1)
	gen.EmitArgs(OpLRef, 0, 0)
	gen.Emit(OpPush)
	gen.EmitLit(OpGRef, Symbol("note!"))
	gen.EmitArg(OpCall, 1)
	gen.Mark(l1)
	gen.EmitJump(OpPreCall, l2)
	gen.EmitLit(OpClosure, grab.Build())
	gen.Emit(OpPush)
	gen.EmitLit(OpGRef, Symbol("call/pc"))
	gen.EmitArg(OpCall, 1)
	gen.Mark(l2)
	gen.EmitArgs(OpLRef, 0, 0)
	gen.Emit(OpPush)
	gen.EmitLit(OpConst, 1)
	gen.Emit(OpNumAdd2)
	gen.Emit(OpPush)
	gen.EmitLit(OpGRef, Symbol("gen"))
	gen.EmitArg(OpTailCall, 1)

	b := NewCodeBuilder("main", 0)
	afterL := b.NewLabel()
	b.EmitLit(OpClosure, gen.Build())
	b.EmitLit(OpDefine, Symbol("gen"))
	b.EmitJump(OpPreCall, afterL)
	b.EmitLit(OpConstPush, 0)
	b.EmitLit(OpGRef, Symbol("gen"))
	b.EmitArg(OpCall, 1)
	b.Mark(afterL)
	b.Emit(OpRet)

	if got := machine.EvalRec(b.Build()); got != 0 {
		t.Fatalf("initial run got %v, want 0", got)
	}

	resumeOnce := func() Value {
		c := NewCodeBuilder("resume", 0)
		l := c.NewLabel()
		c.EmitJump(OpPreCall, l)
		c.EmitLit(OpConstPush, Undef)
		c.EmitLit(OpGRef, Symbol("resume"))
		c.EmitArg(OpCall, 1)
		c.Mark(l)
		c.Emit(OpRet)
		return machine.EvalRec(c.Build())
	}

	if got := resumeOnce(); got != 1 {
		t.Fatalf("first resume got %v, want 1", got)
	}
	if got := resumeOnce(); got != 2 {
		t.Fatalf("second resume got %v, want 2", got)
	}
	if len(yielded) != 3 || yielded[0] != 0 || yielded[1] != 1 || yielded[2] != 2 {
		t.Fatalf("yielded = %v, want [0 1 2]", yielded)
	}
}
