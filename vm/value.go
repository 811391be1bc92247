package vm

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindUnit Kind = iota
	KindBool
	KindByte
	KindChar
	KindInt
	KindFloat
	KindString
	KindBytes
	KindVec
	KindTuple
	KindObject
	KindOption
	KindResult
	KindFunction
	KindFuture
	KindAny
)

var kindNames = [...]string{
	KindUnit:     "Unit",
	KindBool:     "Bool",
	KindByte:     "Byte",
	KindChar:     "Char",
	KindInt:      "Int",
	KindFloat:    "Float",
	KindString:   "String",
	KindBytes:    "Bytes",
	KindVec:      "Vec",
	KindTuple:    "Tuple",
	KindObject:   "Object",
	KindOption:   "Option",
	KindResult:   "Result",
	KindFunction: "Function",
	KindFuture:   "Future",
	KindAny:      "Any",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is the tagged dynamic datum manipulated by instructions.
//
// Scalar kinds (Unit, Bool, Byte, Char, Int, Float) are stored inline
// in bits. Every other kind carries a pointer to a shared cell, so a
// plain Go copy of a Value aliases the same storage. The heap kinds
// (String, Bytes, Vec, Tuple, Object, Any) additionally maintain a
// reference count: Share increments it and returns an alias, Clone
// produces independent top-level storage with nested heap values still
// shared.
type Value struct {
	kind Kind
	bits uint64
	ref  *shared
}

// shared is the cell behind every pointer-carrying Value. refs tracks
// aliases of the refcounted heap kinds; for Option, Result, Function,
// and Future it stays at 1 and is never consulted.
type shared struct {
	refs atomic.Int32
	data any
}

func newShared(data any) *shared {
	s := &shared{data: data}
	s.refs.Store(1)
	return s
}

// Mutable payloads behind shared cells.
type (
	stringPayload struct{ s string }
	bytesPayload  struct{ b []byte }
	vecPayload    struct{ items []Value }
	tuplePayload  struct{ items []Value }
	objectPayload struct {
		fields map[string]Value
	}
	optionPayload struct {
		some  bool
		value Value
	}
	resultPayload struct {
		ok    bool
		value Value
	}
	anyPayload struct {
		typeHash Hash
		typeName string
		value    any
	}
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// UnitValue is the single value of the Unit type.
var UnitValue = Value{kind: KindUnit}

// NewBool creates a Bool value.
func NewBool(b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return Value{kind: KindBool, bits: bits}
}

// NewByte creates a Byte value.
func NewByte(b byte) Value {
	return Value{kind: KindByte, bits: uint64(b)}
}

// NewChar creates a Char value from a rune.
func NewChar(c rune) Value {
	return Value{kind: KindChar, bits: uint64(uint32(c))}
}

// NewInt creates a 64-bit signed Integer value.
func NewInt(n int64) Value {
	return Value{kind: KindInt, bits: uint64(n)}
}

// NewFloat creates a 64-bit Float value.
func NewFloat(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// NewString creates a heap-allocated String value.
func NewString(s string) Value {
	return Value{kind: KindString, ref: newShared(&stringPayload{s: s})}
}

// NewBytes creates a heap-allocated Bytes value. The slice is owned by
// the new value.
func NewBytes(b []byte) Value {
	return Value{kind: KindBytes, ref: newShared(&bytesPayload{b: b})}
}

// NewVec creates a Vector value owning the given items.
func NewVec(items ...Value) Value {
	return Value{kind: KindVec, ref: newShared(&vecPayload{items: items})}
}

// NewTuple creates a fixed-arity Tuple value owning the given items.
func NewTuple(items ...Value) Value {
	return Value{kind: KindTuple, ref: newShared(&tuplePayload{items: items})}
}

// NewObject creates an empty Object value.
func NewObject() Value {
	return Value{kind: KindObject, ref: newShared(&objectPayload{fields: make(map[string]Value)})}
}

// NewSome creates an Option value holding v.
func NewSome(v Value) Value {
	return Value{kind: KindOption, ref: newShared(&optionPayload{some: true, value: v})}
}

// NoneValue creates the empty Option value.
func NoneValue() Value {
	return Value{kind: KindOption, ref: newShared(&optionPayload{})}
}

// NewOk creates an Ok-tagged Result value.
func NewOk(v Value) Value {
	return Value{kind: KindResult, ref: newShared(&resultPayload{ok: true, value: v})}
}

// NewErr creates an Err-tagged Result value.
func NewErr(v Value) Value {
	return Value{kind: KindResult, ref: newShared(&resultPayload{value: v})}
}

// NewAny wraps a native Go object with a type identity. Downcasting
// checks the identity and only ever yields the exact wrapped type.
func NewAny(typeName string, obj any) Value {
	return Value{kind: KindAny, ref: newShared(&anyPayload{
		typeHash: TypeHash(typeName),
		typeName: typeName,
		value:    obj,
	})}
}

// ---------------------------------------------------------------------------
// Type checking and accessors
// ---------------------------------------------------------------------------

// Kind returns the type tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsUnit returns true if v is the Unit value.
func (v Value) IsUnit() bool { return v.kind == KindUnit }

// Bool returns v as a bool. Panics if v is not a Bool.
func (v Value) Bool() bool {
	v.mustBe(KindBool, "Bool")
	return v.bits != 0
}

// Byte returns v as a byte. Panics if v is not a Byte.
func (v Value) Byte() byte {
	v.mustBe(KindByte, "Byte")
	return byte(v.bits)
}

// Char returns v as a rune. Panics if v is not a Char.
func (v Value) Char() rune {
	v.mustBe(KindChar, "Char")
	return rune(uint32(v.bits))
}

// Int returns v as an int64. Panics if v is not an Int.
func (v Value) Int() int64 {
	v.mustBe(KindInt, "Int")
	return int64(v.bits)
}

// Float returns v as a float64. Panics if v is not a Float.
func (v Value) Float() float64 {
	v.mustBe(KindFloat, "Float")
	return math.Float64frombits(v.bits)
}

// Str returns the current contents of a String value. Panics if v is
// not a String.
func (v Value) Str() string {
	v.mustBe(KindString, "Str")
	return v.ref.data.(*stringPayload).s
}

// SetStr replaces the contents of a String value. The change is
// visible through every alias.
func (v Value) SetStr(s string) {
	v.mustBe(KindString, "SetStr")
	v.ref.data.(*stringPayload).s = s
}

// Bytes returns the backing slice of a Bytes value. Panics if v is not
// a Bytes.
func (v Value) Bytes() []byte {
	v.mustBe(KindBytes, "Bytes")
	return v.ref.data.(*bytesPayload).b
}

// SetBytes replaces the backing slice of a Bytes value.
func (v Value) SetBytes(b []byte) {
	v.mustBe(KindBytes, "SetBytes")
	v.ref.data.(*bytesPayload).b = b
}

// Len returns the element count of a String, Bytes, Vec, Tuple, or
// Object value. Panics for other kinds.
func (v Value) Len() int {
	switch v.kind {
	case KindString:
		return len(v.Str())
	case KindBytes:
		return len(v.Bytes())
	case KindVec, KindTuple:
		return len(v.items())
	case KindObject:
		return len(v.fields())
	default:
		panic("Value.Len: kind " + v.kind.String() + " has no length")
	}
}

// At returns the element at index i of a Vec or Tuple. Panics on other
// kinds; returns false if i is out of range.
func (v Value) At(i int) (Value, bool) {
	items := v.items()
	if i < 0 || i >= len(items) {
		return Value{}, false
	}
	return items[i], true
}

// SetAt replaces the element at index i of a Vec or Tuple. Returns
// false if i is out of range.
func (v Value) SetAt(i int, elem Value) bool {
	items := v.items()
	if i < 0 || i >= len(items) {
		return false
	}
	items[i] = elem
	return true
}

// Push appends an element to a Vec. The growth is visible through
// every alias of the vector.
func (v Value) Push(elem Value) {
	v.mustBe(KindVec, "Push")
	p := v.ref.data.(*vecPayload)
	p.items = append(p.items, elem)
}

// Pop removes and returns the last element of a Vec. Returns false if
// the vector is empty.
func (v Value) Pop() (Value, bool) {
	v.mustBe(KindVec, "Pop")
	p := v.ref.data.(*vecPayload)
	if len(p.items) == 0 {
		return Value{}, false
	}
	last := p.items[len(p.items)-1]
	p.items = p.items[:len(p.items)-1]
	return last, true
}

// Field returns the named field of an Object value.
func (v Value) Field(key string) (Value, bool) {
	f, ok := v.fields()[key]
	return f, ok
}

// SetField sets the named field of an Object value, visible through
// every alias.
func (v Value) SetField(key string, field Value) {
	v.fields()[key] = field
}

// Option returns (some, inner) for an Option value. Panics otherwise.
func (v Value) Option() (bool, Value) {
	v.mustBe(KindOption, "Option")
	p := v.ref.data.(*optionPayload)
	return p.some, p.value
}

// Result returns (ok, inner) for a Result value. Panics otherwise.
func (v Value) Result() (bool, Value) {
	v.mustBe(KindResult, "Result")
	p := v.ref.data.(*resultPayload)
	return p.ok, p.value
}

// Function returns the function payload. Panics if v is not a Function.
func (v Value) Function() *FunctionValue {
	v.mustBe(KindFunction, "Function")
	return v.ref.data.(*FunctionValue)
}

// Future returns the future handle. Panics if v is not a Future.
func (v Value) Future() *Future {
	v.mustBe(KindFuture, "Future")
	return v.ref.data.(*Future)
}

// AnyTypeName returns the declared type name of an Any value.
func (v Value) AnyTypeName() string {
	v.mustBe(KindAny, "AnyTypeName")
	return v.ref.data.(*anyPayload).typeName
}

// Downcast extracts the wrapped native object if v is an Any value of
// exactly the named type. A kind or type-identity mismatch is a
// FailedDowncast fault, never an unchecked reinterpretation.
func (v Value) Downcast(typeName string) (any, error) {
	if v.kind != KindAny {
		return nil, newFault(FaultFailedDowncast, "cannot downcast %s to %s", v.kind, typeName)
	}
	p := v.ref.data.(*anyPayload)
	if p.typeHash != TypeHash(typeName) {
		return nil, newFault(FaultFailedDowncast, "cannot downcast %s to %s", p.typeName, typeName)
	}
	return p.value, nil
}

func (v Value) items() []Value {
	switch v.kind {
	case KindVec:
		return v.ref.data.(*vecPayload).items
	case KindTuple:
		return v.ref.data.(*tuplePayload).items
	default:
		panic("Value.items: kind " + v.kind.String() + " has no elements")
	}
}

func (v Value) fields() map[string]Value {
	v.mustBe(KindObject, "fields")
	return v.ref.data.(*objectPayload).fields
}

func (v Value) mustBe(k Kind, op string) {
	if v.kind != k {
		panic(fmt.Sprintf("Value.%s: not a %s (got %s)", op, k, v.kind))
	}
}

// ---------------------------------------------------------------------------
// Share and clone
// ---------------------------------------------------------------------------

// isHeap reports whether k is one of the reference-counted heap kinds.
func (k Kind) isHeap() bool {
	switch k {
	case KindString, KindBytes, KindVec, KindTuple, KindObject, KindAny:
		return true
	}
	return false
}

// Share returns an alias of v. For heap kinds the reference count is
// incremented and both values observe each other's mutations; scalar
// kinds are simply copied.
func (v Value) Share() Value {
	if v.kind.isHeap() {
		v.ref.refs.Add(1)
	}
	return v
}

// Release drops one reference to a heap value. The count is aliasing
// bookkeeping only; storage reclamation is the Go collector's job.
func (v Value) Release() {
	if v.kind.isHeap() {
		v.ref.refs.Add(-1)
	}
}

// Refs returns the current reference count of a heap value, or 1 for
// any other kind.
func (v Value) Refs() int {
	if v.kind.isHeap() {
		return int(v.ref.refs.Load())
	}
	return 1
}

// Clone produces independent top-level storage for heap kinds. Nested
// heap values remain shared: cloning a Vec of Vecs yields a new outer
// vector whose elements still alias the originals. Non-heap kinds are
// returned unchanged.
func (v Value) Clone() Value {
	switch v.kind {
	case KindString:
		return NewString(v.Str())
	case KindBytes:
		b := v.Bytes()
		dup := make([]byte, len(b))
		copy(dup, b)
		return NewBytes(dup)
	case KindVec:
		items := v.items()
		dup := make([]Value, len(items))
		copy(dup, items)
		return NewVec(dup...)
	case KindTuple:
		items := v.items()
		dup := make([]Value, len(items))
		copy(dup, items)
		return NewTuple(dup...)
	case KindObject:
		fields := v.fields()
		obj := NewObject()
		dst := obj.fields()
		for k, f := range fields {
			dst[k] = f
		}
		return obj
	case KindAny:
		p := v.ref.data.(*anyPayload)
		return Value{kind: KindAny, ref: newShared(&anyPayload{
			typeHash: p.typeHash,
			typeName: p.typeName,
			value:    p.value,
		})}
	default:
		return v
	}
}

// ---------------------------------------------------------------------------
// Equality and ordering
// ---------------------------------------------------------------------------

// Equal reports structural equality between a and b. Equality is only
// defined between same-kind values, except that Int and Float compare
// by numeric value. Function, Future, and Any compare by identity.
func Equal(a, b Value) (bool, error) {
	if a.kind != b.kind {
		if f, af := numericAsFloat(a); af {
			if g, bf := numericAsFloat(b); bf {
				return f == g, nil
			}
		}
		return false, newFault(FaultTypeMismatch, "cannot compare %s with %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindUnit:
		return true, nil
	case KindBool, KindByte, KindChar, KindInt:
		return a.bits == b.bits, nil
	case KindFloat:
		return a.Float() == b.Float(), nil
	case KindString:
		return a.Str() == b.Str(), nil
	case KindBytes:
		ab, bb := a.Bytes(), b.Bytes()
		if len(ab) != len(bb) {
			return false, nil
		}
		for i := range ab {
			if ab[i] != bb[i] {
				return false, nil
			}
		}
		return true, nil
	case KindVec, KindTuple:
		ai, bi := a.items(), b.items()
		if len(ai) != len(bi) {
			return false, nil
		}
		for i := range ai {
			eq, err := Equal(ai[i], bi[i])
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case KindObject:
		af, bf := a.fields(), b.fields()
		if len(af) != len(bf) {
			return false, nil
		}
		for k, av := range af {
			bv, ok := bf[k]
			if !ok {
				return false, nil
			}
			eq, err := Equal(av, bv)
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case KindOption:
		as, av := a.Option()
		bs, bv := b.Option()
		if as != bs {
			return false, nil
		}
		if !as {
			return true, nil
		}
		return Equal(av, bv)
	case KindResult:
		ao, av := a.Result()
		bo, bv := b.Result()
		if ao != bo {
			return false, nil
		}
		return Equal(av, bv)
	case KindFunction, KindFuture, KindAny:
		return a.ref == b.ref, nil
	default:
		return false, newFault(FaultTypeMismatch, "cannot compare %s values", a.kind)
	}
}

// Compare returns -1, 0, or 1 ordering a against b. Ordering is
// defined for numerics (Int and Float coerce), Byte, Char, String, and
// Bytes; all other pairings are a TypeMismatch fault.
func Compare(a, b Value) (int, error) {
	if a.kind != b.kind {
		if f, af := numericAsFloat(a); af {
			if g, bf := numericAsFloat(b); bf {
				return cmpFloat(f, g), nil
			}
		}
		return 0, newFault(FaultTypeMismatch, "cannot order %s against %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindInt:
		x, y := a.Int(), b.Int()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case KindFloat:
		return cmpFloat(a.Float(), b.Float()), nil
	case KindByte, KindChar:
		switch {
		case a.bits < b.bits:
			return -1, nil
		case a.bits > b.bits:
			return 1, nil
		}
		return 0, nil
	case KindString:
		x, y := a.Str(), b.Str()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case KindBytes:
		x, y := a.Bytes(), b.Bytes()
		n := len(x)
		if len(y) < n {
			n = len(y)
		}
		for i := 0; i < n; i++ {
			if x[i] != y[i] {
				if x[i] < y[i] {
					return -1, nil
				}
				return 1, nil
			}
		}
		switch {
		case len(x) < len(y):
			return -1, nil
		case len(x) > len(y):
			return 1, nil
		}
		return 0, nil
	default:
		return 0, newFault(FaultTypeMismatch, "cannot order %s values", a.kind)
	}
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// numericAsFloat widens Int and Float for cross-kind numeric
// comparison. Byte deliberately does not coerce.
func numericAsFloat(v Value) (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.Int()), true
	case KindFloat:
		return v.Float(), true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// String renders v for diagnostics. It is not a serialization format.
func (v Value) String() string {
	switch v.kind {
	case KindUnit:
		return "()"
	case KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case KindByte:
		return fmt.Sprintf("%db", v.Byte())
	case KindChar:
		return fmt.Sprintf("%q", v.Char())
	case KindInt:
		return fmt.Sprintf("%d", v.Int())
	case KindFloat:
		return fmt.Sprintf("%g", v.Float())
	case KindString:
		return fmt.Sprintf("%q", v.Str())
	case KindBytes:
		return fmt.Sprintf("b%q", v.Bytes())
	case KindVec:
		return formatItems("[", v.items(), "]")
	case KindTuple:
		return formatItems("(", v.items(), ")")
	case KindObject:
		return fmt.Sprintf("#{%d fields}", v.Len())
	case KindOption:
		some, inner := v.Option()
		if !some {
			return "None"
		}
		return "Some(" + inner.String() + ")"
	case KindResult:
		ok, inner := v.Result()
		if ok {
			return "Ok(" + inner.String() + ")"
		}
		return "Err(" + inner.String() + ")"
	case KindFunction:
		return v.Function().String()
	case KindFuture:
		if v.Future().Ready() {
			return "Future(ready)"
		}
		return "Future(pending)"
	case KindAny:
		return "Any(" + v.AnyTypeName() + ")"
	default:
		return fmt.Sprintf("Value(%d)", uint8(v.kind))
	}
}

func formatItems(open string, items []Value, closing string) string {
	s := open
	for i, item := range items {
		if i > 0 {
			s += ", "
		}
		s += item.String()
	}
	return s + closing
}
