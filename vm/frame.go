package vm

// ---------------------------------------------------------------------------
// Activation frames
// ---------------------------------------------------------------------------
//
// Environment and continuation frames start life in fixed per-VM arenas,
// side by side with the value stack. When any of the three regions fills
// up, saveStack relocates every live frame to the heap and rewrites all
// pointers into the arenas (two passes, with forwarding markers left in
// the vacated frames so aliases converge on the single heap copy).
//
// Frame identity is observable: a captured continuation and the running
// VM may share frames, and mutation through one alias must be seen
// through the other. Relocation therefore forwards rather than clones.

// forwardedMark in the size field means the frame has been moved to the
// heap; the up/prev link points at the heap copy.
const forwardedMark = -1

// envFrame is a local variable frame. While on the arena its slots
// alias a window of the VM value stack; after promotion they own a heap
// slice.
type envFrame struct {
	up      *envFrame
	info    Value // procedure name or debug info
	size    int   // slot count, or forwardedMark
	slots   []Value
	onStack bool
}

func (e *envFrame) forwarded() bool { return e.size == forwardedMark }

// NativeCont is the resume function of a native continuation frame. It
// receives the value returned to the frame and the opaque data captured
// at push time, and produces the frame's result.
type NativeCont func(vm *VM, result Value, data []any) Value

// contFrame is a continuation frame. Two kinds share the struct:
//
//   - interpreted: resumes bytecode at pc/base with the saved argp
//     window (size slots) restored under it. argp/size address the
//     value stack while on the arena; after promotion the window lives
//     in args.
//   - native: after != nil; resumes by calling after with val0. argp
//     records the stack pointer at push time so popping can unwind
//     transient values. size is 0.
//
// A boundary frame is an interpreted frame whose pc is boundaryInsns;
// popping control past it leaves the dispatch loop.
type contFrame struct {
	prev    *contFrame
	env     *envFrame
	argp    int
	size    int // saved window size, or forwardedMark
	pc      []Insn
	base    *CompiledCode
	after   NativeCont
	data    []any   // native frames only
	args    []Value // heap copy of the saved window
	onStack bool
}

func (c *contFrame) forwarded() bool { return c.size == forwardedMark }
func (c *contFrame) native() bool    { return c.after != nil }

// ---------------------------------------------------------------------------
// Arenas
// ---------------------------------------------------------------------------
//
// Arena capacity is fixed at VM creation; frames are handed out by
// bumping a top index. Pointers into the arenas stay valid because the
// backing arrays never grow. checkStack guarantees room before any
// allocation, so the alloc functions themselves never relocate.

type frameArena struct {
	envs    []envFrame
	conts   []contFrame
	envTop  int
	contTop int
}

func newFrameArena(envCap, contCap int) *frameArena {
	return &frameArena{
		envs:  make([]envFrame, envCap),
		conts: make([]contFrame, contCap),
	}
}

func (a *frameArena) envRoom(n int) bool  { return a.envTop+n <= len(a.envs) }
func (a *frameArena) contRoom(n int) bool { return a.contTop+n <= len(a.conts) }

func (a *frameArena) allocEnv() *envFrame {
	if a.envTop >= len(a.envs) {
		panic("vm: environment arena overrun")
	}
	e := &a.envs[a.envTop]
	a.envTop++
	*e = envFrame{onStack: true}
	return e
}

func (a *frameArena) allocCont() *contFrame {
	if a.contTop >= len(a.conts) {
		panic("vm: continuation arena overrun")
	}
	c := &a.conts[a.contTop]
	a.contTop++
	*c = contFrame{onStack: true}
	return c
}

// reset drops every arena frame. Callers must have relocated all live
// frames to the heap first.
func (a *frameArena) reset() {
	for i := 0; i < a.envTop; i++ {
		a.envs[i] = envFrame{}
	}
	for i := 0; i < a.contTop; i++ {
		a.conts[i] = contFrame{}
	}
	a.envTop = 0
	a.contTop = 0
}
