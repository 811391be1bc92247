package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Unit: immutable compiled program
// ---------------------------------------------------------------------------

// Export records one entry point of a Unit: where it starts and how
// many arguments it declares.
type Export struct {
	Name   string `cbor:"1,keyasint"`
	Offset uint32 `cbor:"2,keyasint"`
	Arity  int    `cbor:"3,keyasint"`
}

// DebugSpan maps an instruction offset to a source span. The span
// boundaries are byte offsets into the source the front-end compiled.
type DebugSpan struct {
	Offset uint32 `cbor:"1,keyasint"`
	Start  uint32 `cbor:"2,keyasint"`
	End    uint32 `cbor:"3,keyasint"`
}

// Unit is an immutable compiled program: the instruction stream, the
// constant pool, the export table, and an optional debug map. A Unit
// is built once by the front-end (or by Link) and never mutated, so
// any number of Executions can read it concurrently.
type Unit struct {
	Code      []byte          `cbor:"1,keyasint"`
	Constants []Constant      `cbor:"2,keyasint,omitempty"`
	Exports   map[Hash]Export `cbor:"3,keyasint,omitempty"`
	Debug     []DebugSpan     `cbor:"4,keyasint,omitempty"`
}

// Lookup finds an export by hash.
func (u *Unit) Lookup(hash Hash) (Export, bool) {
	exp, ok := u.Exports[hash]
	return exp, ok
}

// LookupName finds an export by qualified name.
func (u *Unit) LookupName(name string) (Export, bool) {
	return u.Lookup(NameHash(name))
}

// SpanAt returns the source span covering the instruction at offset,
// if the unit carries debug information.
func (u *Unit) SpanAt(offset uint32) (DebugSpan, bool) {
	// Debug entries are ordered by offset; take the last one at or
	// before the requested offset.
	var found DebugSpan
	ok := false
	for _, d := range u.Debug {
		if d.Offset > offset {
			break
		}
		found = d
		ok = true
	}
	return found, ok
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// Constant is a pool entry. Only scalar, String, and Bytes constants
// exist; aggregate literals are built by instructions so that every
// PUSH_CONST materializes fresh, unaliased heap storage.
type Constant struct {
	Kind  Kind    `cbor:"1,keyasint"`
	Int   int64   `cbor:"2,keyasint,omitempty"`
	Float float64 `cbor:"3,keyasint,omitempty"`
	Str   string  `cbor:"4,keyasint,omitempty"`
	Bytes []byte  `cbor:"5,keyasint,omitempty"`
}

// IntConst creates an Int constant.
func IntConst(n int64) Constant { return Constant{Kind: KindInt, Int: n} }

// FloatConst creates a Float constant.
func FloatConst(f float64) Constant { return Constant{Kind: KindFloat, Float: f} }

// BoolConst creates a Bool constant.
func BoolConst(b bool) Constant {
	var n int64
	if b {
		n = 1
	}
	return Constant{Kind: KindBool, Int: n}
}

// ByteConst creates a Byte constant.
func ByteConst(b byte) Constant { return Constant{Kind: KindByte, Int: int64(b)} }

// CharConst creates a Char constant.
func CharConst(c rune) Constant { return Constant{Kind: KindChar, Int: int64(c)} }

// StringConst creates a String constant.
func StringConst(s string) Constant { return Constant{Kind: KindString, Str: s} }

// BytesConst creates a Bytes constant.
func BytesConst(b []byte) Constant { return Constant{Kind: KindBytes, Bytes: b} }

// Value materializes the constant. String and Bytes constants yield a
// fresh heap cell on every push; the pool itself is never aliased by
// running code. Panics on a kind the pool cannot hold; the dispatch
// loop uses materialize to fault instead, since pools arrive over the
// wire.
func (c Constant) Value() Value {
	v, ok := c.materialize()
	if !ok {
		panic(fmt.Sprintf("Constant.Value: unsupported constant kind %s", c.Kind))
	}
	return v
}

func (c Constant) materialize() (Value, bool) {
	switch c.Kind {
	case KindUnit:
		return UnitValue, true
	case KindBool:
		return NewBool(c.Int != 0), true
	case KindByte:
		return NewByte(byte(c.Int)), true
	case KindChar:
		return NewChar(rune(c.Int)), true
	case KindInt:
		return NewInt(c.Int), true
	case KindFloat:
		return NewFloat(c.Float), true
	case KindString:
		return NewString(c.Str), true
	case KindBytes:
		dup := make([]byte, len(c.Bytes))
		copy(dup, c.Bytes)
		return NewBytes(dup), true
	default:
		return Value{}, false
	}
}

// ---------------------------------------------------------------------------
// UnitBuilder: helper for constructing units
// ---------------------------------------------------------------------------

// UnitBuilder assembles a Unit. The front-end uses it as its emission
// target; tests use it to write programs directly.
type UnitBuilder struct {
	code      []byte
	constants []Constant
	exports   map[Hash]Export
	debug     []DebugSpan
}

// NewUnitBuilder creates an empty builder.
func NewUnitBuilder() *UnitBuilder {
	return &UnitBuilder{
		code:    make([]byte, 0, 64),
		exports: make(map[Hash]Export),
	}
}

// Offset returns the current emission offset.
func (b *UnitBuilder) Offset() uint32 {
	return uint32(len(b.code))
}

// Export declares an entry point at the current offset. Declaring the
// same name twice in one builder is an error.
func (b *UnitBuilder) Export(name string, arity int) error {
	hash := NameHash(name)
	if _, exists := b.exports[hash]; exists {
		return &LinkError{Name: name, Hash: hash, Msg: "duplicate export"}
	}
	b.exports[hash] = Export{Name: name, Offset: b.Offset(), Arity: arity}
	return nil
}

// Constant adds a pool entry and returns its index.
func (b *UnitBuilder) Constant(c Constant) uint32 {
	b.constants = append(b.constants, c)
	return uint32(len(b.constants) - 1)
}

// Span records a debug span for the instruction about to be emitted.
func (b *UnitBuilder) Span(start, end uint32) {
	b.debug = append(b.debug, DebugSpan{Offset: b.Offset(), Start: start, End: end})
}

// Emit appends an opcode with no operands.
func (b *UnitBuilder) Emit(op Opcode) {
	b.code = append(b.code, byte(op))
}

// EmitU16 appends an opcode with a 16-bit operand.
func (b *UnitBuilder) EmitU16(op Opcode, operand uint16) {
	b.code = append(b.code, byte(op), byte(operand), byte(operand>>8))
}

// EmitPushInt appends PUSH_INT with an inline i64.
func (b *UnitBuilder) EmitPushInt(n int64) {
	b.code = append(b.code, byte(OpPushInt))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	b.code = append(b.code, buf[:]...)
}

// EmitPushByte appends PUSH_BYTE.
func (b *UnitBuilder) EmitPushByte(v byte) {
	b.code = append(b.code, byte(OpPushByte), v)
}

// EmitPushChar appends PUSH_CHAR.
func (b *UnitBuilder) EmitPushChar(c rune) {
	b.code = append(b.code, byte(OpPushChar))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(c))
	b.code = append(b.code, buf[:]...)
}

// EmitPushConst adds c to the pool and appends PUSH_CONST.
func (b *UnitBuilder) EmitPushConst(c Constant) {
	idx := b.Constant(c)
	b.code = append(b.code, byte(OpPushConst))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], idx)
	b.code = append(b.code, buf[:]...)
}

// EmitPushFloat adds a Float constant and pushes it. Floats have no
// inline form.
func (b *UnitBuilder) EmitPushFloat(f float64) {
	b.EmitPushConst(FloatConst(f))
}

// EmitPushString adds a String constant and pushes it.
func (b *UnitBuilder) EmitPushString(s string) {
	b.EmitPushConst(StringConst(s))
}

// EmitCall appends CALL with a name hash and argument count.
func (b *UnitBuilder) EmitCall(name string, argc int) {
	b.emitHashByte(OpCall, NameHash(name), byte(argc))
}

// EmitCallHash appends CALL with a raw hash.
func (b *UnitBuilder) EmitCallHash(hash Hash, argc int) {
	b.emitHashByte(OpCall, hash, byte(argc))
}

// EmitCallFn appends CALL_FN.
func (b *UnitBuilder) EmitCallFn(argc int) {
	b.code = append(b.code, byte(OpCallFn), byte(argc))
}

// EmitClosure appends CLOSURE, capturing nups values off the stack.
func (b *UnitBuilder) EmitClosure(name string, nups int) {
	b.emitHashByte(OpClosure, NameHash(name), byte(nups))
}

func (b *UnitBuilder) emitHashByte(op Opcode, hash Hash, n byte) {
	b.code = append(b.code, byte(op))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(hash))
	b.code = append(b.code, buf[:]...)
	b.code = append(b.code, n)
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label represents a jump target, possibly not yet emitted.
type Label struct {
	resolved bool
	target   uint32
	refs     []int // operand positions awaiting the target
}

// NewLabel creates an unresolved label.
func (b *UnitBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current offset and patches every
// forward reference.
func (b *UnitBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.target = b.Offset()
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint32(b.code[ref:], label.target)
	}
	label.refs = nil
}

// EmitJump appends a jump-family instruction targeting label.
func (b *UnitBuilder) EmitJump(op Opcode, label *Label) {
	b.code = append(b.code, byte(op))
	if label.resolved {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], label.target)
		b.code = append(b.code, buf[:]...)
		return
	}
	label.refs = append(label.refs, len(b.code))
	b.code = append(b.code, 0, 0, 0, 0)
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// Build finalizes the unit. The builder must not be reused afterwards.
func (b *UnitBuilder) Build() *Unit {
	u := &Unit{
		Code:      b.code,
		Constants: b.constants,
		Exports:   b.exports,
		Debug:     b.debug,
	}
	b.code = nil
	b.constants = nil
	b.exports = nil
	b.debug = nil
	return u
}
