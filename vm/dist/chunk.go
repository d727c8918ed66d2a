// Package dist defines the portable image format for compiled code.
//
// An Image is a flat, content-addressed set of chunks, one per code
// vector, plus the hash of the entry point. Literal tables are encoded
// as a small tagged union; inner code vectors appear as hash references
// so shared code is stored once.
package dist

import (
	"fmt"

	"github.com/skimlang/skim/vm"
)

// ImageVersion is bumped on incompatible format changes.
const ImageVersion = 1

// Image is a serialized program.
type Image struct {
	Version int     `cbor:"1,keyasint"`
	Entry   string  `cbor:"2,keyasint"`
	Chunks  []Chunk `cbor:"3,keyasint"`
}

// Chunk is one code vector.
type Chunk struct {
	Hash     string    `cbor:"1,keyasint"`
	Name     string    `cbor:"2,keyasint"`
	ReqArgs  int       `cbor:"3,keyasint"`
	Optional bool      `cbor:"4,keyasint"`
	MaxStack int       `cbor:"5,keyasint"`
	Insns    []EncInsn `cbor:"6,keyasint"`
	Literals []Literal `cbor:"7,keyasint"`
}

// EncInsn is one instruction word.
type EncInsn struct {
	Op uint8 `cbor:"1,keyasint"`
	A0 int   `cbor:"2,keyasint,omitempty"`
	A1 int   `cbor:"3,keyasint,omitempty"`
}

// Literal kinds.
const (
	LitNil    = "nil"
	LitUndef  = "undef"
	LitBool   = "bool"
	LitInt    = "int"
	LitFloat  = "float"
	LitString = "string"
	LitSymbol = "symbol"
	LitPair   = "pair"
	LitCode   = "code"
)

// Literal is the tagged encoding of one literal-table entry.
type Literal struct {
	Kind  string    `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint,omitempty"`
	Str   string    `cbor:"4,keyasint,omitempty"`
	Bool  bool      `cbor:"5,keyasint,omitempty"`
	Kids  []Literal `cbor:"6,keyasint,omitempty"`
}

// Encode flattens a compiled-code tree into an image.
func Encode(code *vm.CompiledCode) (*Image, error) {
	img := &Image{Version: ImageVersion}
	seen := make(map[string]bool)
	if err := encodeChunk(code, img, seen); err != nil {
		return nil, err
	}
	img.Entry = code.ContentHash()
	return img, nil
}

func encodeChunk(code *vm.CompiledCode, img *Image, seen map[string]bool) error {
	hash := code.ContentHash()
	if seen[hash] {
		return nil
	}
	seen[hash] = true

	ch := Chunk{
		Hash:     hash,
		Name:     code.Name,
		ReqArgs:  code.ReqArgs,
		Optional: code.Optional,
		MaxStack: code.MaxStack,
		Insns:    make([]EncInsn, len(code.Insns)),
	}
	for i, in := range code.Insns {
		ch.Insns[i] = EncInsn{Op: uint8(in.Op), A0: in.Arg0, A1: in.Arg1}
	}
	for _, lit := range code.Literals {
		enc, err := encodeLiteral(lit, img, seen)
		if err != nil {
			return fmt.Errorf("dist: encode %s: %w", code.Name, err)
		}
		ch.Literals = append(ch.Literals, enc)
	}
	img.Chunks = append(img.Chunks, ch)
	return nil
}

func encodeLiteral(lit vm.Value, img *Image, seen map[string]bool) (Literal, error) {
	switch x := lit.(type) {
	case nil:
		return Literal{}, fmt.Errorf("nil literal")
	case bool:
		return Literal{Kind: LitBool, Bool: x}, nil
	case int:
		return Literal{Kind: LitInt, Int: int64(x)}, nil
	case float64:
		return Literal{Kind: LitFloat, Float: x}, nil
	case string:
		return Literal{Kind: LitString, Str: x}, nil
	case vm.Symbol:
		return Literal{Kind: LitSymbol, Str: string(x)}, nil
	case *vm.Gloc:
		// Memoized global references decay back to their names.
		return Literal{Kind: LitSymbol, Str: string(x.Name)}, nil
	case *vm.Pair:
		car, err := encodeLiteral(x.Car, img, seen)
		if err != nil {
			return Literal{}, err
		}
		cdr, err := encodeLiteral(x.Cdr, img, seen)
		if err != nil {
			return Literal{}, err
		}
		return Literal{Kind: LitPair, Kids: []Literal{car, cdr}}, nil
	case *vm.CompiledCode:
		if err := encodeChunk(x, img, seen); err != nil {
			return Literal{}, err
		}
		return Literal{Kind: LitCode, Str: x.ContentHash()}, nil
	default:
		if lit == vm.Nil {
			return Literal{Kind: LitNil}, nil
		}
		if lit == vm.Undef {
			return Literal{Kind: LitUndef}, nil
		}
		return Literal{}, fmt.Errorf("unencodable literal %s", vm.ToString(lit))
	}
}

// Decode rebuilds the entry code vector from an image. Chunks shared by
// several parents decode to one object.
func Decode(img *Image) (*vm.CompiledCode, error) {
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("dist: image version %d, want %d", img.Version, ImageVersion)
	}
	byHash := make(map[string]*Chunk, len(img.Chunks))
	for i := range img.Chunks {
		byHash[img.Chunks[i].Hash] = &img.Chunks[i]
	}
	decoded := make(map[string]*vm.CompiledCode)
	entry, err := decodeChunk(img.Entry, byHash, decoded)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func decodeChunk(hash string, byHash map[string]*Chunk, decoded map[string]*vm.CompiledCode) (*vm.CompiledCode, error) {
	if code, ok := decoded[hash]; ok {
		return code, nil
	}
	ch, ok := byHash[hash]
	if !ok {
		return nil, fmt.Errorf("dist: image references missing chunk %s", hash)
	}

	code := &vm.CompiledCode{
		Name:     ch.Name,
		ReqArgs:  ch.ReqArgs,
		Optional: ch.Optional,
		MaxStack: ch.MaxStack,
		Insns:    make([]vm.Insn, len(ch.Insns)),
	}
	decoded[hash] = code

	for i, in := range ch.Insns {
		code.Insns[i] = vm.Insn{Op: vm.Opcode(in.Op), Arg0: in.A0, Arg1: in.A1}
	}
	for _, lit := range ch.Literals {
		v, err := decodeLiteral(lit, code, byHash, decoded)
		if err != nil {
			return nil, fmt.Errorf("dist: decode %s: %w", ch.Name, err)
		}
		code.Literals = append(code.Literals, v)
	}
	return code, nil
}

func decodeLiteral(lit Literal, parent *vm.CompiledCode, byHash map[string]*Chunk, decoded map[string]*vm.CompiledCode) (vm.Value, error) {
	switch lit.Kind {
	case LitNil:
		return vm.Nil, nil
	case LitUndef:
		return vm.Undef, nil
	case LitBool:
		return lit.Bool, nil
	case LitInt:
		return int(lit.Int), nil
	case LitFloat:
		return lit.Float, nil
	case LitString:
		return lit.Str, nil
	case LitSymbol:
		return vm.Symbol(lit.Str), nil
	case LitPair:
		if len(lit.Kids) != 2 {
			return nil, fmt.Errorf("pair literal with %d parts", len(lit.Kids))
		}
		car, err := decodeLiteral(lit.Kids[0], parent, byHash, decoded)
		if err != nil {
			return nil, err
		}
		cdr, err := decodeLiteral(lit.Kids[1], parent, byHash, decoded)
		if err != nil {
			return nil, err
		}
		return vm.Cons(car, cdr), nil
	case LitCode:
		inner, err := decodeChunk(lit.Str, byHash, decoded)
		if err != nil {
			return nil, err
		}
		inner.Parent = parent
		return inner, nil
	default:
		return nil, fmt.Errorf("unknown literal kind %q", lit.Kind)
	}
}
