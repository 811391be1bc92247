package vm

import "fmt"

// ---------------------------------------------------------------------------
// Context: immutable native-capability registry
// ---------------------------------------------------------------------------

// NativeFunc is a host capability callable from bytecode. It receives
// the resuming Execution (for nested invocations and registry access)
// and a borrowed view of the arguments: the slice must not be retained
// past the call, and in particular not across a suspension boundary.
// A returned *Fault propagates as-is; any other error is wrapped.
type NativeFunc func(ex *Execution, args []Value) (Value, error)

// NativeEntry describes one registered native callable.
type NativeEntry struct {
	Name   string
	Arity  int
	Params []Kind // expected argument kinds; nil entry or slice accepts any
	Fn     NativeFunc
}

// TypeEntry is the registered metadata for a native type.
type TypeEntry struct {
	Name    string
	Methods []string
}

// Context is the immutable registry of native callables and type
// metadata. It is built once by the bridge layer before any Execution
// starts and is shared read-only thereafter, so it needs no locking.
type Context struct {
	functions map[Hash]NativeEntry
	types     map[Hash]TypeEntry
}

// Lookup finds a native callable by qualified-name hash.
func (c *Context) Lookup(hash Hash) (NativeEntry, bool) {
	e, ok := c.functions[hash]
	return e, ok
}

// LookupType finds a registered type by hash.
func (c *Context) LookupType(hash Hash) (TypeEntry, bool) {
	t, ok := c.types[hash]
	return t, ok
}

// Functions returns the number of registered callables.
func (c *Context) Functions() int { return len(c.functions) }

// ---------------------------------------------------------------------------
// ContextBuilder
// ---------------------------------------------------------------------------

// ContextBuilder accumulates registrations and seals them into a
// Context. Registration is not safe for concurrent use; build the
// context at startup, then share it freely.
type ContextBuilder struct {
	functions map[Hash]NativeEntry
	types     map[Hash]TypeEntry
}

// NewContextBuilder creates an empty builder.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{
		functions: make(map[Hash]NativeEntry),
		types:     make(map[Hash]TypeEntry),
	}
}

// Function registers a native callable under a qualified name.
func (b *ContextBuilder) Function(name string, arity int, fn NativeFunc) error {
	return b.FunctionChecked(name, arity, nil, fn)
}

// FunctionChecked registers a native callable with declared parameter
// kinds. Arguments are checked before the call; a mismatch is an
// ArgumentTypeMismatch fault in the calling Execution.
func (b *ContextBuilder) FunctionChecked(name string, arity int, params []Kind, fn NativeFunc) error {
	hash := NameHash(name)
	if existing, ok := b.functions[hash]; ok {
		return fmt.Errorf("context: %q conflicts with registered function %q", name, existing.Name)
	}
	if params != nil && len(params) != arity {
		return fmt.Errorf("context: %q declares %d params for arity %d", name, len(params), arity)
	}
	b.functions[hash] = NativeEntry{Name: name, Arity: arity, Params: params, Fn: fn}
	return nil
}

// Type registers native type metadata under its name.
func (b *ContextBuilder) Type(name string, methods ...string) error {
	hash := TypeHash(name)
	if existing, ok := b.types[hash]; ok {
		return fmt.Errorf("context: type %q conflicts with registered type %q", name, existing.Name)
	}
	b.types[hash] = TypeEntry{Name: name, Methods: methods}
	return nil
}

// Build seals the registrations. The builder must not be used after.
func (b *ContextBuilder) Build() *Context {
	c := &Context{functions: b.functions, types: b.types}
	b.functions = nil
	b.types = nil
	return c
}
