// Package vm implements the skim virtual machine.
//
// This package contains:
//   - Scheme value representation and list helpers
//   - Bytecode instruction set and code builder
//   - Stack-frame interpreter with heap promotion of live frames
//   - Full and partial first-class continuations
//   - Dynamic-wind and the condition system
//   - Cooperative checkpoint for cross-goroutine requests
//   - Content-addressed compiled-code store
package vm
