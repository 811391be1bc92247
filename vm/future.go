package vm

import "sync"

// Future is the handle to a suspended sub-computation. The core never
// completes a future on its own: a native callable or the host marks
// it ready, and the host is responsible for re-resuming any Execution
// that reported Pending on it.
//
// A Future is safe to complete from a different goroutine than the one
// driving the awaiting Execution.
type Future struct {
	mu    sync.Mutex
	ready bool
	value Value
}

// NewFuture creates a pending Future and the Value wrapping it.
func NewFuture() (*Future, Value) {
	f := &Future{}
	return f, Value{kind: KindFuture, ref: newShared(f)}
}

// CompletedFuture creates a Future that is already ready with v.
func CompletedFuture(v Value) Value {
	f, val := NewFuture()
	f.Complete(v)
	return val
}

// Complete marks the future ready with v. Completing twice panics:
// a future resolves exactly once.
func (f *Future) Complete(v Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ready {
		panic("Future.Complete: already completed")
	}
	f.ready = true
	f.value = v
}

// Ready reports whether the future has resolved.
func (f *Future) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

// Take returns the resolved value. Returns false while pending.
func (f *Future) Take() (Value, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return Value{}, false
	}
	return f.value, true
}
