package vm

import "fmt"

// ---------------------------------------------------------------------------
// Cooperative checkpoint
// ---------------------------------------------------------------------------
//
// Other goroutines communicate with a running VM by queueing work and
// flipping the attention flag. The dispatch loop notices the flag
// between two instructions, brackets the interruption with a
// continuation frame so the interrupted computation's values survive,
// and drains the queues. A stop request parks the VM on its condition
// variable until an inspector resumes it.

// VMState is the lifecycle state of a VM.
type VMState int32

const (
	StateNew VMState = iota
	StateRunnable
	StateStopped
	StateTerminated
)

func (s VMState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunnable:
		return "runnable"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Attach marks the calling goroutine as the VM's runner. A VM accepts
// exactly one runner at a time.
func (vm *VM) Attach() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.state == StateRunnable || vm.state == StateStopped {
		return fmt.Errorf("vm %s: already attached", vm.Name)
	}
	if vm.state == StateTerminated {
		return fmt.Errorf("vm %s: terminated", vm.Name)
	}
	vm.state = StateRunnable
	return nil
}

// Detach releases the VM from its runner.
func (vm *VM) Detach() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.state = StateTerminated
	vm.cond.Broadcast()
}

// State returns the VM's lifecycle state.
func (vm *VM) State() VMState {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state
}

// EnqueueRequest schedules fn to run on the VM's goroutine at the next
// checkpoint. Safe to call from any goroutine.
func (vm *VM) EnqueueRequest(fn func(*VM)) {
	vm.mu.Lock()
	vm.requests = append(vm.requests, fn)
	vm.mu.Unlock()
	vm.attention.Store(true)
}

// EnqueueFinalizer schedules thunk, a procedure of no arguments, to be
// applied at the next checkpoint.
func (vm *VM) EnqueueFinalizer(thunk Value) {
	vm.mu.Lock()
	vm.finalizers = append(vm.finalizers, thunk)
	vm.mu.Unlock()
	vm.attention.Store(true)
}

// RequestStop asks the VM to park at its next checkpoint. The caller
// can WaitStopped to rendezvous, inspect the VM, then Resume it.
func (vm *VM) RequestStop() {
	vm.mu.Lock()
	vm.stopRequest = true
	vm.mu.Unlock()
	vm.attention.Store(true)
}

// WaitStopped blocks until the VM has parked (or terminated).
func (vm *VM) WaitStopped() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for vm.state != StateStopped && vm.state != StateTerminated {
		vm.cond.Wait()
	}
}

// Resume releases a parked VM.
func (vm *VM) Resume() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.stopRequest = false
	if vm.state == StateStopped {
		vm.state = StateRunnable
		vm.cond.Broadcast()
	}
}

// processQueuedRequests drains the queues. It runs between two
// instructions; the native continuation frame pushed first restores the
// interrupted result vector afterwards.
func (vm *VM) processQueuedRequests() {
	var extra []Value
	if vm.numVals > 1 {
		extra = make([]Value, vm.numVals-1)
		copy(extra, vm.vals[:vm.numVals-1])
	}
	vm.PushCC(processQueueCC, vm.numVals, vm.val0, extra)

	// Clearing the flag before draining is safe: a request arriving
	// after this sets it again and gets the next checkpoint.
	vm.attention.Store(false)

	vm.mu.Lock()
	reqs := vm.requests
	fins := vm.finalizers
	vm.requests = nil
	vm.finalizers = nil
	vm.mu.Unlock()

	for _, fn := range reqs {
		fn(vm)
	}
	for _, thunk := range fins {
		vm.ApplyRec(thunk)
	}

	vm.mu.Lock()
	if vm.stopRequest {
		vm.stopRequest = false
		vm.state = StateStopped
		vm.cond.Broadcast()
		for vm.state == StateStopped {
			vm.cond.Wait()
		}
	}
	vm.mu.Unlock()
}

func processQueueCC(vm *VM, _ Value, data []any) Value {
	vm.numVals = data[0].(int)
	vm.val0 = data[1].(Value)
	if extra, ok := data[2].([]Value); ok {
		copy(vm.vals[:], extra)
	}
	return vm.val0
}
