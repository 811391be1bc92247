// Package vm implements the Veldt virtual machine core: the dynamic
// Value representation, compiled Units and their linker, the native
// capability Context, and resumable Executions that run bytecode until
// they complete, fault, or suspend on an unready Future.
//
// The package has no scheduler and spawns no goroutines. A host drives
// each Execution by calling Resume repeatedly; independent Executions
// may be driven from different goroutines because they share nothing
// mutable.
package vm
