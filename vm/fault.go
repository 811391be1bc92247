package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// VM faults
// ---------------------------------------------------------------------------

// FaultKind discriminates the VM-level errors that terminate an
// Execution. Callers and diagnostics depend on these staying distinct;
// they are never collapsed into one generic error.
type FaultKind uint8

const (
	FaultTypeMismatch FaultKind = iota
	FaultMissingFunction
	FaultArgumentCountMismatch
	FaultArgumentTypeMismatch
	FaultStackOverflow
	FaultDivisionByZero
	FaultFailedDowncast
	FaultIndexOutOfBounds
	// FaultRaised carries the value of an explicit raise instruction.
	// Script-level errors travel as ordinary Result values instead and
	// never become faults.
	FaultRaised
)

var faultKindNames = [...]string{
	FaultTypeMismatch:          "TypeMismatch",
	FaultMissingFunction:       "MissingFunction",
	FaultArgumentCountMismatch: "ArgumentCountMismatch",
	FaultArgumentTypeMismatch:  "ArgumentTypeMismatch",
	FaultStackOverflow:         "StackOverflow",
	FaultDivisionByZero:        "DivisionByZero",
	FaultFailedDowncast:        "FailedDowncast",
	FaultIndexOutOfBounds:      "IndexOutOfBounds",
	FaultRaised:                "Raised",
}

func (k FaultKind) String() string {
	if int(k) < len(faultKindNames) {
		return faultKindNames[k]
	}
	return fmt.Sprintf("FaultKind(%d)", uint8(k))
}

// FrameInfo is a diagnostic snapshot of one call frame at the moment
// an Execution faulted.
type FrameInfo struct {
	Name     string // exported name, if the frame's entry is known
	Hash     Hash   // hash the frame was called through (zero for the entry frame)
	ReturnPC uint32
	Bottom   int
}

// Fault is the structured record of a VM-level error. It terminates
// exactly the Execution it occurred in and is reported to the host as
// data, never by aborting the process.
type Fault struct {
	Kind    FaultKind
	PC      uint32      // instruction pointer at termination
	Message string
	Raised  Value       // only set for FaultRaised
	Frames  []FrameInfo // best-effort call chain, innermost last
}

func newFault(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Kind.String()
	}
	return f.Kind.String() + ": " + f.Message
}

// Backtrace renders the captured frame chain, innermost frame first.
func (f *Fault) Backtrace() string {
	if len(f.Frames) == 0 {
		return fmt.Sprintf("  at %04d", f.PC)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "  at %04d", f.PC)
	for i := len(f.Frames) - 1; i >= 0; i-- {
		fr := f.Frames[i]
		name := fr.Name
		if name == "" {
			name = fr.Hash.String()
		}
		fmt.Fprintf(&b, "\n  in %s (return %04d, bottom %d)", name, fr.ReturnPC, fr.Bottom)
	}
	return b.String()
}

// AsFault unwraps err into a *Fault if it is one.
func AsFault(err error) (*Fault, bool) {
	f, ok := err.(*Fault)
	return f, ok
}

// ---------------------------------------------------------------------------
// Link errors
// ---------------------------------------------------------------------------

// LinkError is fatal at link time: no runnable unit is produced and no
// Execution can be constructed from the inputs.
type LinkError struct {
	Name string // duplicated export name, when known
	Hash Hash
	Msg  string
}

func (e *LinkError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("link: %s (%q, %s)", e.Msg, e.Name, e.Hash)
	}
	return "link: " + e.Msg
}
