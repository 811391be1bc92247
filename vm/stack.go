package vm

// ---------------------------------------------------------------------------
// Stack: per-Execution operand storage and call frames
// ---------------------------------------------------------------------------

// Frame records the call state of one invocation: where to continue
// after return, where the frame's operand region begins, and what was
// called, for diagnostics.
type Frame struct {
	ReturnPC uint32 // pc to resume in the caller
	Bottom   int    // stack offset of the frame's first argument
	Arity    int    // declared argument count
	Hash     Hash   // hash the frame was entered through (zero for entry)
	Name     string // export name, when known
}

// Stack is the growable operand stack plus the frame stack of a single
// Execution. It is exclusively owned: only the goroutine currently
// resuming the owning Execution may touch it.
type Stack struct {
	values []Value
	frames []Frame
}

func newStack(initial int) *Stack {
	if initial <= 0 {
		initial = 64
	}
	return &Stack{
		values: make([]Value, 0, initial),
		frames: make([]Frame, 0, 8),
	}
}

// Len returns the operand count.
func (s *Stack) Len() int { return len(s.values) }

// Depth returns the call-frame count.
func (s *Stack) Depth() int { return len(s.frames) }

func (s *Stack) push(v Value) {
	s.values = append(s.values, v)
}

func (s *Stack) pop() (Value, bool) {
	if len(s.values) == 0 {
		return Value{}, false
	}
	v := s.values[len(s.values)-1]
	s.values[len(s.values)-1] = Value{}
	s.values = s.values[:len(s.values)-1]
	return v, true
}

// popN removes the top n values, returned in push order.
func (s *Stack) popN(n int) ([]Value, bool) {
	if len(s.values) < n {
		return nil, false
	}
	base := len(s.values) - n
	out := make([]Value, n)
	copy(out, s.values[base:])
	for i := base; i < len(s.values); i++ {
		s.values[i] = Value{}
	}
	s.values = s.values[:base]
	return out, true
}

// takeUnder removes and returns the value sitting below the top n
// operands, sliding them down one slot.
func (s *Stack) takeUnder(n int) (Value, bool) {
	idx := len(s.values) - n - 1
	if idx < 0 {
		return Value{}, false
	}
	v := s.values[idx]
	copy(s.values[idx:], s.values[idx+1:])
	s.values[len(s.values)-1] = Value{}
	s.values = s.values[:len(s.values)-1]
	return v, true
}

func (s *Stack) top() (Value, bool) {
	if len(s.values) == 0 {
		return Value{}, false
	}
	return s.values[len(s.values)-1], true
}

// at reads a slot relative to the current frame bottom.
func (s *Stack) at(offset int) (Value, bool) {
	idx := s.bottom() + offset
	if idx < 0 || idx >= len(s.values) {
		return Value{}, false
	}
	return s.values[idx], true
}

// setAt writes a slot relative to the current frame bottom.
func (s *Stack) setAt(offset int, v Value) bool {
	idx := s.bottom() + offset
	if idx < 0 || idx >= len(s.values) {
		return false
	}
	s.values[idx] = v
	return true
}

// bottom returns the operand offset of the current frame, or 0 when no
// frame has been pushed yet.
func (s *Stack) bottom() int {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[len(s.frames)-1].Bottom
}

// pushFrame frames the top argc operands as a new call.
func (s *Stack) pushFrame(f Frame) {
	s.frames = append(s.frames, f)
}

// popFrame unwinds the current frame: the whole callee region is
// replaced by the single return value.
func (s *Stack) popFrame(result Value) (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	for i := f.Bottom; i < len(s.values); i++ {
		s.values[i] = Value{}
	}
	s.values = s.values[:f.Bottom]
	s.push(result)
	return f, true
}

// frameSnapshot copies the frame chain for fault diagnostics.
func (s *Stack) frameSnapshot() []FrameInfo {
	out := make([]FrameInfo, len(s.frames))
	for i, f := range s.frames {
		out[i] = FrameInfo{
			Name:     f.Name,
			Hash:     f.Hash,
			ReturnPC: f.ReturnPC,
			Bottom:   f.Bottom,
		}
	}
	return out
}

// release drops the stack's storage. Called when the host discards the
// Execution; nothing user-observable runs.
func (s *Stack) release() {
	s.values = nil
	s.frames = nil
}
