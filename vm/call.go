package vm

import "fmt"

// ---------------------------------------------------------------------------
// Function values
// ---------------------------------------------------------------------------

// FunctionValue is the payload of a Function-kind Value. Exactly one
// of the two shapes is populated: a bytecode entry point with captured
// upvalues, or a reference to a registered native callable. Call sites
// dispatch over the two shapes explicitly; there is no open-ended
// method table behind this.
type FunctionValue struct {
	// Bytecode shape
	Offset   uint32
	Arity    int
	Name     string
	Upvalues []Value

	// Native shape
	Native *NativeEntry
}

// IsNative reports whether the function refers to a native callable.
func (f *FunctionValue) IsNative() bool { return f.Native != nil }

func (f *FunctionValue) String() string {
	if f.IsNative() {
		return fmt.Sprintf("fn %s (native)", f.Native.Name)
	}
	if len(f.Upvalues) > 0 {
		return fmt.Sprintf("fn %s/%d +%d captured", f.Name, f.Arity, len(f.Upvalues))
	}
	return fmt.Sprintf("fn %s/%d", f.Name, f.Arity)
}

// BytecodeFunction wraps an export and its captured upvalues as a
// Function value.
func BytecodeFunction(exp Export, upvalues []Value) Value {
	return Value{kind: KindFunction, ref: newShared(&FunctionValue{
		Offset:   exp.Offset,
		Arity:    exp.Arity,
		Name:     exp.Name,
		Upvalues: upvalues,
	})}
}

// NativeFunction wraps a registered native callable as a Function
// value.
func NativeFunction(entry NativeEntry) Value {
	e := entry
	return Value{kind: KindFunction, ref: newShared(&FunctionValue{Native: &e})}
}

// ---------------------------------------------------------------------------
// Call resolution and invocation
// ---------------------------------------------------------------------------

// callHash resolves a CALL target: first the linked unit's export
// table, then the context's native table. The top argc operands are
// the arguments, pushed left to right.
func (ex *Execution) callHash(hash Hash, argc int, callPC uint32) *Fault {
	if exp, ok := ex.unit.Lookup(hash); ok {
		return ex.enterFrame(exp, hash, argc, nil, callPC)
	}
	if entry, ok := ex.context.Lookup(hash); ok {
		return ex.callNative(entry, argc)
	}
	return newFault(FaultMissingFunction, "no function for hash %s", hash)
}

// callFunction invokes a Function value sitting under its argc
// arguments on the stack. Bytecode and native shapes dispatch
// uniformly from the caller's point of view.
func (ex *Execution) callFunction(fnVal Value, argc int, callPC uint32) *Fault {
	if fnVal.Kind() != KindFunction {
		return newFault(FaultTypeMismatch, "cannot call %s value", fnVal.Kind())
	}
	fn := fnVal.Function()
	if fn.IsNative() {
		return ex.callNative(*fn.Native, argc)
	}
	if fn.Arity != argc {
		return newFault(FaultArgumentCountMismatch,
			"%s declares arity %d, got %d arguments", fn.Name, fn.Arity, argc)
	}
	exp := Export{Name: fn.Name, Offset: fn.Offset, Arity: fn.Arity}
	return ex.enterFrame(exp, NameHash(fn.Name), argc, fn.Upvalues, callPC)
}

// enterFrame frames the top argc operands and transfers control to a
// bytecode target. Captured upvalues, if any, are appended after the
// arguments so the callee addresses them at slots arity..arity+n-1.
// The arity check happens before any frame state changes, so a
// mismatched call has no partial side effects.
func (ex *Execution) enterFrame(exp Export, hash Hash, argc int, upvalues []Value, callPC uint32) *Fault {
	if exp.Arity != argc {
		return newFault(FaultArgumentCountMismatch,
			"%s declares arity %d, got %d arguments", exp.Name, exp.Arity, argc)
	}
	if ex.stack.Depth() >= ex.limits.MaxCallDepth {
		return newFault(FaultStackOverflow, "call depth limit %d exceeded", ex.limits.MaxCallDepth)
	}
	bottom := ex.stack.Len() - argc
	if bottom < ex.stack.bottom() {
		return newFault(FaultArgumentCountMismatch,
			"%s needs %d arguments, caller frame holds %d", exp.Name, argc, ex.stack.Len()-ex.stack.bottom())
	}
	ex.stack.pushFrame(Frame{
		ReturnPC: callPC,
		Bottom:   bottom,
		Arity:    exp.Arity,
		Hash:     hash,
		Name:     exp.Name,
	})
	for _, up := range upvalues {
		ex.stack.push(up.Share())
	}
	ex.pc = exp.Offset
	return nil
}

// callNative pops the arguments, runs the callable, and pushes its
// result. The argument slice is a borrowed view: ownership stays with
// the VM and the callable must not retain it.
func (ex *Execution) callNative(entry NativeEntry, argc int) *Fault {
	if entry.Arity != argc {
		return newFault(FaultArgumentCountMismatch,
			"%s declares arity %d, got %d arguments", entry.Name, entry.Arity, argc)
	}
	args, ok := ex.stack.popN(argc)
	if !ok {
		return newFault(FaultArgumentCountMismatch,
			"%s needs %d arguments, stack holds %d", entry.Name, argc, ex.stack.Len())
	}
	if entry.Params != nil {
		for i, want := range entry.Params {
			if args[i].Kind() != want {
				return newFault(FaultArgumentTypeMismatch,
					"%s argument %d: expected %s, got %s", entry.Name, i, want, args[i].Kind())
			}
		}
	}
	result, err := entry.Fn(ex, args)
	if err != nil {
		if f, ok := AsFault(err); ok {
			return f
		}
		return newFault(FaultRaised, "native %s: %v", entry.Name, err)
	}
	ex.stack.push(result)
	return nil
}

// closure builds a Function value from an export, capturing the top n
// operands as upvalues (in push order).
func (ex *Execution) closure(hash Hash, nups int) *Fault {
	exp, ok := ex.unit.Lookup(hash)
	if !ok {
		if entry, nok := ex.context.Lookup(hash); nok {
			if nups != 0 {
				return newFault(FaultTypeMismatch, "native %s cannot capture upvalues", entry.Name)
			}
			ex.stack.push(NativeFunction(entry))
			return nil
		}
		return newFault(FaultMissingFunction, "no function for hash %s", hash)
	}
	ups, ok := ex.stack.popN(nups)
	if !ok {
		return newFault(FaultArgumentCountMismatch,
			"closure over %s captures %d values, stack holds %d", exp.Name, nups, ex.stack.Len())
	}
	ex.stack.push(BytecodeFunction(exp, ups))
	return nil
}
