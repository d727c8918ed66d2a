package vm

import "fmt"

// ---------------------------------------------------------------------------
// Instruction set
// ---------------------------------------------------------------------------
//
// One instruction is a fixed-width word: an opcode plus up to two integer
// operands. Operands are either immediate small integers, frame coordinates
// (depth, offset), literal-table indices, or absolute instruction indices
// for jumps. The program counter is a slice of the owning code vector, so a
// jump re-slices rather than re-indexes.

// Opcode identifies an instruction.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Constants and stack.
	OpConst     // val0 = literal[Arg0]
	OpConstPush // push literal[Arg0]
	OpPush      // push val0

	// Local environment.
	OpLRef         // val0 = env slot (depth Arg0, offset Arg1)
	OpLSet         // env slot (depth Arg0, offset Arg1) = val0
	OpLocalEnv     // finish env frame of Arg0 slots from pushed args
	OpPushLocalEnv // push val0, then finish env frame of Arg0 slots
	OpPopLocalEnv  // env = env.up

	// Globals.
	OpGRef   // val0 = global named literal[Arg0]; memoizes the Gloc
	OpGSet   // set global named literal[Arg0] to val0
	OpDefine // define global literal[Arg0] = val0; val0 = the symbol

	// Procedure call protocol.
	OpPreCall       // push continuation frame resuming at insn Arg0
	OpCall          // apply val0 to Arg0 pushed args
	OpTailCall      // discard current env, then apply val0 to Arg0 args
	OpValuesApply   // spread the result vector as Arg0 args, tail-apply val0
	OpTailApplyList // tail-apply val0; last pushed arg is a list of the rest

	// Control.
	OpJump        // pc = insns[Arg0:]
	OpBranchFalse // if val0 is #f, pc = insns[Arg0:]
	OpClosure     // val0 = closure of literal[Arg0] over current env
	OpRet         // pop continuation frame

	// Fused primitives.
	OpNumAdd2
	OpNumSub2
	OpNumMul2
	OpNumEq2
	OpNumLT2
	OpCons
)

var opcodeNames = [...]string{
	OpNop:           "NOP",
	OpConst:         "CONST",
	OpConstPush:     "CONST-PUSH",
	OpPush:          "PUSH",
	OpLRef:          "LREF",
	OpLSet:          "LSET",
	OpLocalEnv:      "LOCAL-ENV",
	OpPushLocalEnv:  "PUSH-LOCAL-ENV",
	OpPopLocalEnv:   "POP-LOCAL-ENV",
	OpGRef:          "GREF",
	OpGSet:          "GSET",
	OpDefine:        "DEFINE",
	OpPreCall:       "PRE-CALL",
	OpCall:          "CALL",
	OpTailCall:      "TAIL-CALL",
	OpValuesApply:   "VALUES-APPLY",
	OpTailApplyList: "TAIL-APPLY-LIST",
	OpJump:          "JUMP",
	OpBranchFalse:   "BF",
	OpClosure:       "CLOSURE",
	OpRet:           "RET",
	OpNumAdd2:       "NUMADD2",
	OpNumSub2:       "NUMSUB2",
	OpNumMul2:       "NUMMUL2",
	OpNumEq2:        "NUMEQ2",
	OpNumLT2:        "NUMLT2",
	OpCons:          "CONS",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("OP(%d)", uint8(op))
}

// Insn is one instruction word.
type Insn struct {
	Op   Opcode
	Arg0 int
	Arg1 int
}

func (i Insn) String() string {
	switch i.Op {
	case OpNop, OpPush, OpPopLocalEnv, OpRet, OpTailApplyList,
		OpNumAdd2, OpNumSub2, OpNumMul2, OpNumEq2, OpNumLT2, OpCons:
		return i.Op.String()
	case OpLRef, OpLSet:
		return fmt.Sprintf("%s(%d,%d)", i.Op, i.Arg0, i.Arg1)
	default:
		return fmt.Sprintf("%s(%d)", i.Op, i.Arg0)
	}
}

// Static instruction sequences. The dispatch and boundary machinery
// compares program counters by the identity of the backing array, so
// these must never be copied or re-sliced from fresh allocations.
var (
	// returnInsns is the pc installed after a native leaf finishes:
	// the next fetch pops the continuation.
	returnInsns = []Insn{{Op: OpRet}}

	// boundaryInsns marks a continuation frame pushed by runBoundary.
	// Control never executes it; popping past it returns to native code.
	boundaryInsns = []Insn{{Op: OpNop}}

	// applyCalls[n] tail-calls val0 with n pushed arguments. Used by
	// ApplyNext to schedule an application that runs when control
	// returns to the dispatch loop.
	applyCalls = [...][]Insn{
		{{Op: OpTailCall, Arg0: 0}, {Op: OpRet}},
		{{Op: OpTailCall, Arg0: 1}, {Op: OpRet}},
		{{Op: OpTailCall, Arg0: 2}, {Op: OpRet}},
		{{Op: OpTailCall, Arg0: 3}, {Op: OpRet}},
		{{Op: OpTailCall, Arg0: 4}, {Op: OpRet}},
	}

	// applyCallN handles arities beyond len(applyCalls): the single
	// pushed argument is the whole argument list.
	applyCallN = []Insn{{Op: OpTailApplyList}, {Op: OpRet}}
)

// isBoundaryPC reports whether pc marks a boundary continuation frame.
func isBoundaryPC(pc []Insn) bool {
	return len(pc) > 0 && &pc[0] == &boundaryInsns[0]
}
