package vm

import "sync"

// ---------------------------------------------------------------------------
// Global bindings
// ---------------------------------------------------------------------------

// Gloc is a global binding cell. A GREF instruction that resolves a
// symbol memoizes the cell into its literal slot, so later executions
// skip the table lookup. Mutating the cell is visible through every
// memoized reference.
type Gloc struct {
	Name   Symbol
	Module *Module
	value  Value
}

// Get returns the cell's value; Unbound if none has been set.
func (g *Gloc) Get() Value { return g.value }

// Set stores v into the cell.
func (g *Gloc) Set(v Value) { g.value = v }

// Module is a table of global bindings. Lookup and definition are safe
// to call from any goroutine; cell mutation follows the VM's
// single-runner discipline.
type Module struct {
	Name  string
	mu    sync.RWMutex
	table map[Symbol]*Gloc
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name, table: make(map[Symbol]*Gloc)}
}

// FindBinding returns the binding cell for name, or nil.
func (m *Module) FindBinding(name Symbol) *Gloc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table[name]
}

// Define binds name to v, creating the cell if needed.
func (m *Module) Define(name Symbol, v Value) *Gloc {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.table[name]
	if g == nil {
		g = &Gloc{Name: name, Module: m, value: Unbound}
		m.table[name] = g
	}
	g.value = v
	return g
}

// globalRef implements GREF: resolve the literal to a binding cell,
// memoize it, and read the value.
func (vm *VM) globalRef(litIndex int) Value {
	gloc := vm.resolveGloc(litIndex)
	v := gloc.Get()
	if v == Unbound {
		vm.Errorf("unbound variable: %s", gloc.Name)
	}
	return v
}

// globalSet implements GSET. Assignment requires an existing binding.
func (vm *VM) globalSet(litIndex int, v Value) {
	gloc := vm.resolveGloc(litIndex)
	if gloc.Get() == Unbound {
		vm.Errorf("unbound variable: %s", gloc.Name)
	}
	gloc.Set(v)
}

func (vm *VM) resolveGloc(litIndex int) *Gloc {
	lit := vm.base.Literals[litIndex]
	if gloc, ok := lit.(*Gloc); ok {
		return gloc
	}
	name, ok := lit.(Symbol)
	if !ok {
		vm.fatal("global reference literal is neither a symbol nor a binding cell")
	}
	gloc := vm.Module.FindBinding(name)
	if gloc == nil {
		vm.Errorf("unbound variable: %s", name)
	}
	vm.base.Literals[litIndex] = gloc
	return gloc
}
