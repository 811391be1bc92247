package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Execution: one resumable thread of bytecode evaluation
// ---------------------------------------------------------------------------

// Limits bounds the resources a single Execution may consume.
type Limits struct {
	// MaxCallDepth is the maximum number of simultaneously live call
	// frames. Exceeding it is a StackOverflow fault, never process
	// exhaustion.
	MaxCallDepth int
	// InitialStack is the starting operand-stack capacity.
	InitialStack int
}

// DefaultLimits are used when the host passes a zero Limits.
var DefaultLimits = Limits{
	MaxCallDepth: 256,
	InitialStack: 64,
}

func (l Limits) withDefaults() Limits {
	if l.MaxCallDepth <= 0 {
		l.MaxCallDepth = DefaultLimits.MaxCallDepth
	}
	if l.InitialStack <= 0 {
		l.InitialStack = DefaultLimits.InitialStack
	}
	return l
}

// OutcomeKind discriminates the three ways a resume can return.
type OutcomeKind uint8

const (
	// OutcomeComplete: the Execution ran to completion with a value.
	OutcomeComplete OutcomeKind = iota
	// OutcomePending: an await popped a Future that is not yet ready.
	// The full continuation stays resident on the owned Stack; the
	// host re-resumes once the future can progress.
	OutcomePending
	// OutcomeFault: a VM-level fault terminated the Execution.
	OutcomeFault
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeComplete:
		return "Complete"
	case OutcomePending:
		return "Pending"
	case OutcomeFault:
		return "Fault"
	}
	return fmt.Sprintf("OutcomeKind(%d)", uint8(k))
}

// Outcome is the result of one Resume call.
type Outcome struct {
	Kind  OutcomeKind
	Value Value  // set for Complete
	Fault *Fault // set for Fault
}

// ErrCompleted is returned when a host resumes an Execution that has
// already completed or faulted. Double completion is a usage error,
// not a fault.
var ErrCompleted = errors.New("vm: execution already completed")

// returnToHost is the frame ReturnPC sentinel marking the entry frame.
const returnToHost = ^uint32(0)

type executionState uint8

const (
	stateRunnable executionState = iota
	statePending
	stateComplete
	stateFaulted
)

// Execution is a single independent thread of bytecode evaluation. It
// owns its Stack exclusively; the Unit and Context it references are
// immutable and shared. Drive it by calling Resume until it reports
// Complete or Fault, re-resuming after Pending once the awaited future
// can progress.
type Execution struct {
	unit    *Unit
	context *Context
	stack   *Stack
	pc      uint32
	state   executionState
	limits  Limits

	// pending is the future the last await parked on. The pc already
	// points past the await; on resume the resolved value is pushed
	// and the loop continues from the exact suspension point.
	pending *Future

	// Trace, when set, observes every instruction before it executes.
	Trace func(pc uint32, op Opcode)
}

// NewExecution constructs an Execution poised at the named export with
// the given arguments already framed. Unresolvable entry points and
// argument-count mismatches are reported as faults wrapped in error.
func NewExecution(unit *Unit, ctx *Context, entry string, args []Value, limits Limits) (*Execution, error) {
	return NewExecutionHash(unit, ctx, NameHash(entry), args, limits)
}

// NewExecutionHash is NewExecution with a pre-computed entry hash.
func NewExecutionHash(unit *Unit, ctx *Context, entry Hash, args []Value, limits Limits) (*Execution, error) {
	exp, ok := unit.Lookup(entry)
	if !ok {
		return nil, newFault(FaultMissingFunction, "no export %s", entry)
	}
	if exp.Arity != len(args) {
		return nil, newFault(FaultArgumentCountMismatch,
			"%s declares arity %d, got %d arguments", exp.Name, exp.Arity, len(args))
	}
	limits = limits.withDefaults()

	ex := &Execution{
		unit:    unit,
		context: ctx,
		stack:   newStack(limits.InitialStack),
		pc:      exp.Offset,
		limits:  limits,
	}
	for _, a := range args {
		ex.stack.push(a)
	}
	ex.stack.pushFrame(Frame{
		ReturnPC: returnToHost,
		Bottom:   0,
		Arity:    exp.Arity,
		Hash:     entry,
		Name:     exp.Name,
	})
	return ex, nil
}

// Unit returns the linked unit this Execution runs.
func (ex *Execution) Unit() *Unit { return ex.unit }

// Context returns the native-capability registry.
func (ex *Execution) Context() *Context { return ex.context }

// IP returns the current program counter, for diagnostics.
func (ex *Execution) IP() uint32 { return ex.pc }

// CallDepth returns the live frame count, for diagnostics.
func (ex *Execution) CallDepth() int { return ex.stack.Depth() }

// Limits returns the bounds this Execution runs under.
func (ex *Execution) Limits() Limits { return ex.limits }

// Resume runs the dispatch loop until the Execution completes, faults,
// or suspends on an unready Future. Resuming after Complete or Fault
// returns ErrCompleted.
func (ex *Execution) Resume() (Outcome, error) {
	switch ex.state {
	case stateComplete, stateFaulted:
		return Outcome{}, ErrCompleted
	case statePending:
		v, ready := ex.pending.Take()
		if !ready {
			return Outcome{Kind: OutcomePending}, nil
		}
		ex.pending = nil
		ex.state = stateRunnable
		ex.stack.push(v)
	}
	return ex.run(), nil
}

// Discard releases the Execution's stack. Discarding is always safe,
// including mid-suspension; no further user-observable code runs.
func (ex *Execution) Discard() {
	ex.state = stateComplete
	ex.pending = nil
	ex.stack.release()
}

// complete finalizes the Execution with a result value.
func (ex *Execution) complete(v Value) Outcome {
	ex.state = stateComplete
	return Outcome{Kind: OutcomeComplete, Value: v}
}

// suspend parks the Execution on fut.
func (ex *Execution) suspend(fut *Future) Outcome {
	ex.state = statePending
	ex.pending = fut
	return Outcome{Kind: OutcomePending}
}

// faultOut terminates the Execution with a structured fault, filling
// in the instruction pointer and a frame-chain snapshot.
func (ex *Execution) faultOut(f *Fault, at uint32) Outcome {
	ex.state = stateFaulted
	f.PC = at
	if f.Frames == nil {
		f.Frames = ex.stack.frameSnapshot()
	}
	return Outcome{Kind: OutcomeFault, Fault: f}
}
