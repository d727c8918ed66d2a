package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: runtime representation of Scheme objects
// ---------------------------------------------------------------------------

// Value is any Scheme object. Concrete representations:
//
//	int        exact integer
//	float64    inexact real
//	bool       boolean (#f is the only false value)
//	string     string
//	Symbol     interned-by-content symbol
//	*Pair      pair / list cell (pointer identity is object identity)
//	*Closure   compiled procedure + captured environment
//	*Subr      native procedure
//	*Gloc      global binding cell (appears in literal tables only)
//	*Condition raised condition object
//
// The sentinels Nil, Undef, Unbound and EOFObject round out the set.
type Value interface{}

// Symbol is a symbol. Two symbols are the same object iff their names are
// equal, which is all the identity the core needs.
type Symbol string

// Pair is a mutable cons cell. Pointer identity matters: the dynamic-wind
// handler chain is diffed with Memq on its pairs.
type Pair struct {
	Car Value
	Cdr Value
}

type nilType struct{}
type undefType struct{}
type unboundType struct{}
type eofType struct{}

// Singleton immediate values.
var (
	// Nil is the empty list.
	Nil Value = nilType{}
	// Undef is the unspecified value.
	Undef Value = undefType{}
	// Unbound marks a Gloc that has no value yet. It never leaks into
	// user code; reading one raises an unbound-variable condition.
	Unbound Value = unboundType{}
	// EOFObject is the end-of-file object.
	EOFObject Value = eofType{}
)

// Falsy reports whether v counts as false. Only #f is false.
func Falsy(v Value) bool {
	b, ok := v.(bool)
	return ok && !b
}

// Cons allocates a fresh pair.
func Cons(car, cdr Value) *Pair {
	return &Pair{Car: car, Cdr: cdr}
}

// List builds a proper list from the given values.
func List(vs ...Value) Value {
	var head Value = Nil
	for i := len(vs) - 1; i >= 0; i-- {
		head = Cons(vs[i], head)
	}
	return head
}

// Length returns the length of a proper list, or -1 for improper lists
// and non-lists.
func Length(v Value) int {
	n := 0
	for {
		switch x := v.(type) {
		case nilType:
			return n
		case *Pair:
			n++
			v = x.Cdr
		default:
			return -1
		}
	}
}

// ListToSlice flattens a proper list. Improper tails are dropped.
func ListToSlice(v Value) []Value {
	var out []Value
	for {
		p, ok := v.(*Pair)
		if !ok {
			return out
		}
		out = append(out, p.Car)
		v = p.Cdr
	}
}

// Reverse returns a fresh list with the elements of v in reverse order.
func Reverse(v Value) Value {
	var head Value = Nil
	for {
		p, ok := v.(*Pair)
		if !ok {
			return head
		}
		head = Cons(p.Car, head)
		v = p.Cdr
	}
}

// Memq returns the first tail of list whose car is identical (pointer or
// immediate equality) to obj, or false.
func Memq(obj, list Value) Value {
	for {
		p, ok := list.(*Pair)
		if !ok {
			return false
		}
		if p.Car == obj {
			return p
		}
		list = p.Cdr
	}
}

// CopyList returns a fresh proper list with the same elements.
func CopyList(v Value) Value {
	return List(ListToSlice(v)...)
}

// ToString renders a value for diagnostics. It is write-ish: strings are
// quoted, everything else prints in display form.
func ToString(v Value) string {
	var b strings.Builder
	writeValue(&b, v, 0)
	return b.String()
}

const maxWriteDepth = 16

func writeValue(b *strings.Builder, v Value, depth int) {
	if depth > maxWriteDepth {
		b.WriteString("...")
		return
	}
	switch x := v.(type) {
	case nilType:
		b.WriteString("()")
	case undefType:
		b.WriteString("#<undef>")
	case unboundType:
		b.WriteString("#<unbound>")
	case eofType:
		b.WriteString("#<eof>")
	case bool:
		if x {
			b.WriteString("#t")
		} else {
			b.WriteString("#f")
		}
	case int:
		b.WriteString(strconv.Itoa(x))
	case float64:
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		b.WriteString(strconv.Quote(x))
	case Symbol:
		b.WriteString(string(x))
	case *Pair:
		b.WriteByte('(')
		writeValue(b, x.Car, depth+1)
		rest := x.Cdr
		for {
			if p, ok := rest.(*Pair); ok {
				b.WriteByte(' ')
				writeValue(b, p.Car, depth+1)
				rest = p.Cdr
				continue
			}
			break
		}
		if _, ok := rest.(nilType); !ok {
			b.WriteString(" . ")
			writeValue(b, rest, depth+1)
		}
		b.WriteByte(')')
	case *Closure:
		fmt.Fprintf(b, "#<closure %s>", x.Code.Name)
	case *Subr:
		fmt.Fprintf(b, "#<subr %s>", x.Name)
	case *Gloc:
		fmt.Fprintf(b, "#<gloc %s>", x.Name)
	case *Condition:
		fmt.Fprintf(b, "#<condition %q>", x.Message)
	case *CompiledCode:
		fmt.Fprintf(b, "#<compiled-code %s>", x.Name)
	default:
		fmt.Fprintf(b, "#<foreign %T>", v)
	}
}
