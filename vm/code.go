package vm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// CompiledCode and CodeBuilder
// ---------------------------------------------------------------------------

// CompiledCode is an executable code vector produced by the compiler (or,
// in tests, by a CodeBuilder). It is immutable once built.
type CompiledCode struct {
	Name     string
	Insns    []Insn
	Literals []Value

	// Arity of the closure this code implements. ReqArgs is the number
	// of required parameters; if Optional, extras are folded into a rest
	// list bound after the required ones.
	ReqArgs  int
	Optional bool

	// MaxStack is the worst-case number of value-stack slots one
	// activation needs beyond its environment frame.
	MaxStack int

	// Parent links inner code vectors (closure literals) to the code
	// that closes over them. Nil for toplevel code.
	Parent *CompiledCode

	hash string
}

// ContentHash returns a hex digest identifying the code by content:
// instructions, arity, and the hashes or printed forms of literals.
// Two structurally identical code vectors hash the same.
func (c *CompiledCode) ContentHash() string {
	if c.hash != "" {
		return c.hash
	}
	h := sha256.New()
	var word [8]byte
	put := func(n int) {
		binary.LittleEndian.PutUint64(word[:], uint64(int64(n)))
		h.Write(word[:])
	}
	put(c.ReqArgs)
	if c.Optional {
		put(1)
	} else {
		put(0)
	}
	for _, in := range c.Insns {
		put(int(in.Op))
		put(in.Arg0)
		put(in.Arg1)
	}
	for _, lit := range c.Literals {
		switch x := lit.(type) {
		case *CompiledCode:
			io.WriteString(h, x.ContentHash())
		case *Gloc:
			// A memoized global reference hashes as the symbol it
			// resolved, so running a program does not change its hash.
			io.WriteString(h, ToString(x.Name))
		default:
			io.WriteString(h, ToString(lit))
		}
	}
	c.hash = hex.EncodeToString(h.Sum(nil))
	return c.hash
}

// Disassemble writes a human-readable listing of the code vector.
func (c *CompiledCode) Disassemble(w io.Writer) {
	fmt.Fprintf(w, "=== %s (req=%d opt=%v maxstack=%d)\n",
		c.Name, c.ReqArgs, c.Optional, c.MaxStack)
	for i, in := range c.Insns {
		fmt.Fprintf(w, "%4d  %s", i, in)
		switch in.Op {
		case OpConst, OpConstPush, OpGRef, OpGSet, OpDefine, OpClosure:
			if in.Arg0 >= 0 && in.Arg0 < len(c.Literals) {
				fmt.Fprintf(w, "  ; %s", ToString(c.Literals[in.Arg0]))
			}
		}
		fmt.Fprintln(w)
	}
	for _, lit := range c.Literals {
		if inner, ok := lit.(*CompiledCode); ok {
			inner.Disassemble(w)
		}
	}
}

func (c *CompiledCode) String() string {
	var b strings.Builder
	c.Disassemble(&b)
	return b.String()
}

// ---------------------------------------------------------------------------
// CodeBuilder
// ---------------------------------------------------------------------------

// Label is a forward-referenceable jump target within one builder.
type Label struct {
	pos      int
	resolved bool
	refs     []int
}

// CodeBuilder assembles a CompiledCode. Jump targets use labels so code
// can be emitted top to bottom with forward branches.
type CodeBuilder struct {
	name     string
	insns    []Insn
	literals []Value
	reqArgs  int
	optional bool
	maxStack int
	parent   *CompiledCode
}

// NewCodeBuilder starts a code vector for a procedure taking reqArgs
// required arguments.
func NewCodeBuilder(name string, reqArgs int) *CodeBuilder {
	return &CodeBuilder{name: name, reqArgs: reqArgs, maxStack: defaultMaxStack}
}

// Procedure bodies rarely need more transient slots than this; the
// builder uses it unless SetMaxStack says otherwise.
const defaultMaxStack = 32

// SetOptional marks the procedure as taking a rest parameter after the
// required ones.
func (b *CodeBuilder) SetOptional() *CodeBuilder {
	b.optional = true
	return b
}

// SetMaxStack overrides the per-activation stack estimate.
func (b *CodeBuilder) SetMaxStack(n int) *CodeBuilder {
	b.maxStack = n
	return b
}

// SetParent links this code under an enclosing code vector.
func (b *CodeBuilder) SetParent(p *CompiledCode) *CodeBuilder {
	b.parent = p
	return b
}

// Literal interns v in the literal table and returns its index.
func (b *CodeBuilder) Literal(v Value) int {
	for i, lit := range b.literals {
		if lit == v {
			return i
		}
	}
	b.literals = append(b.literals, v)
	return len(b.literals) - 1
}

// Emit appends an instruction with no operands.
func (b *CodeBuilder) Emit(op Opcode) {
	b.insns = append(b.insns, Insn{Op: op})
}

// EmitArg appends an instruction with one integer operand.
func (b *CodeBuilder) EmitArg(op Opcode, arg0 int) {
	b.insns = append(b.insns, Insn{Op: op, Arg0: arg0})
}

// EmitArgs appends an instruction with two integer operands.
func (b *CodeBuilder) EmitArgs(op Opcode, arg0, arg1 int) {
	b.insns = append(b.insns, Insn{Op: op, Arg0: arg0, Arg1: arg1})
}

// EmitLit appends an instruction whose operand is a literal index.
func (b *CodeBuilder) EmitLit(op Opcode, lit Value) {
	b.EmitArg(op, b.Literal(lit))
}

// NewLabel creates an unresolved label.
func (b *CodeBuilder) NewLabel() *Label {
	return &Label{}
}

// Mark resolves the label at the current position, backpatching any
// jumps already emitted against it.
func (b *CodeBuilder) Mark(l *Label) {
	l.pos = len(b.insns)
	l.resolved = true
	for _, at := range l.refs {
		b.insns[at].Arg0 = l.pos
	}
	l.refs = nil
}

// EmitJump appends a jump-family instruction targeting the label.
func (b *CodeBuilder) EmitJump(op Opcode, l *Label) {
	if l.resolved {
		b.EmitArg(op, l.pos)
		return
	}
	l.refs = append(l.refs, len(b.insns))
	b.EmitArg(op, 0)
}

// Build finalizes the code vector. Unresolved labels are a caller bug.
func (b *CodeBuilder) Build() *CompiledCode {
	return &CompiledCode{
		Name:     b.name,
		Insns:    b.insns,
		Literals: b.literals,
		ReqArgs:  b.reqArgs,
		Optional: b.optional,
		MaxStack: b.maxStack,
		Parent:   b.parent,
	}
}
