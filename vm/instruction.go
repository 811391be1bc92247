package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Instructions are
// one opcode byte followed by fixed little-endian operands. Jump
// targets and constant indices are absolute u32 values so the linker
// can rebase them in place.
type Opcode byte

// Stack manipulation
const (
	OpNop      Opcode = 0x00 // no operation
	OpPop      Opcode = 0x01 // discard top of stack
	OpDup      Opcode = 0x02 // duplicate top of stack (alias for heap kinds)
	OpSwap     Opcode = 0x03 // swap the two top values
	OpCloneTop Opcode = 0x04 // replace top with an independent clone
	OpCopy     Opcode = 0x05 // push frame slot (u16 offset from frame bottom)
	OpReplace  Opcode = 0x06 // pop into frame slot (u16 offset)
)

// Push constants
const (
	OpPushUnit  Opcode = 0x10 // push ()
	OpPushTrue  Opcode = 0x11 // push true
	OpPushFalse Opcode = 0x12 // push false
	OpPushInt   Opcode = 0x13 // push inline i64 (8 bytes)
	OpPushByte  Opcode = 0x14 // push inline byte
	OpPushChar  Opcode = 0x15 // push inline rune (4 bytes)
	OpPushConst Opcode = 0x16 // push constant-pool entry (u32 index)
)

// Arithmetic and comparison
const (
	OpAdd Opcode = 0x20 // pop b, a; push a + b
	OpSub Opcode = 0x21 // pop b, a; push a - b
	OpMul Opcode = 0x22 // pop b, a; push a * b
	OpDiv Opcode = 0x23 // pop b, a; push a / b
	OpRem Opcode = 0x24 // pop b, a; push a % b
	OpNeg Opcode = 0x25 // pop a; push -a
	OpNot Opcode = 0x26 // pop a; push !a
	OpEq  Opcode = 0x28 // pop b, a; push a == b
	OpNe  Opcode = 0x29 // pop b, a; push a != b
	OpLt  Opcode = 0x2A // pop b, a; push a < b
	OpLe  Opcode = 0x2B // pop b, a; push a <= b
	OpGt  Opcode = 0x2C // pop b, a; push a > b
	OpGe  Opcode = 0x2D // pop b, a; push a >= b
)

// Control flow
const (
	OpJump      Opcode = 0x30 // jump to absolute target (u32)
	OpJumpIf    Opcode = 0x31 // pop cond, jump if true (u32)
	OpJumpIfNot Opcode = 0x32 // pop cond, jump if false (u32)
	OpIterNext  Opcode = 0x33 // pop idx, vec; push vec, idx+1, elem or jump (u32)
)

// Calling
const (
	OpCall       Opcode = 0x40 // call by hash (u64 hash, u8 argc)
	OpCallFn     Opcode = 0x41 // call Function value under args (u8 argc)
	OpClosure    Opcode = 0x42 // build Function from export (u64 hash, u8 upvalue count)
	OpReturn     Opcode = 0x43 // pop result, unwind frame
	OpReturnUnit Opcode = 0x44 // unwind frame with ()
	OpAwait      Opcode = 0x45 // pop Future; push result or suspend
)

// Aggregate construction
const (
	OpVec    Opcode = 0x50 // pop N values into a Vector (u16 count)
	OpTuple  Opcode = 0x51 // pop N values into a Tuple (u16 count)
	OpObject Opcode = 0x52 // pop N key/value pairs into an Object (u16 pair count)
)

// Option and Result tagging
const (
	OpSome Opcode = 0x58 // pop v; push Some(v)
	OpNone Opcode = 0x59 // push None
	OpOk   Opcode = 0x5A // pop v; push Ok(v)
	OpErr  Opcode = 0x5B // pop v; push Err(v)
)

// Indexing and fault signaling
const (
	OpIndexGet Opcode = 0x60 // pop index, container; push element
	OpIndexSet Opcode = 0x61 // pop value, index, container; store element
	OpRaise    Opcode = 0x62 // pop v; terminate with Raised fault
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds decoding metadata for an opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:      {"NOP", 0},
	OpPop:      {"POP", 0},
	OpDup:      {"DUP", 0},
	OpSwap:     {"SWAP", 0},
	OpCloneTop: {"CLONE", 0},
	OpCopy:     {"COPY", 2},
	OpReplace:  {"REPLACE", 2},

	OpPushUnit:  {"PUSH_UNIT", 0},
	OpPushTrue:  {"PUSH_TRUE", 0},
	OpPushFalse: {"PUSH_FALSE", 0},
	OpPushInt:   {"PUSH_INT", 8},
	OpPushByte:  {"PUSH_BYTE", 1},
	OpPushChar:  {"PUSH_CHAR", 4},
	OpPushConst: {"PUSH_CONST", 4},

	OpAdd: {"ADD", 0},
	OpSub: {"SUB", 0},
	OpMul: {"MUL", 0},
	OpDiv: {"DIV", 0},
	OpRem: {"REM", 0},
	OpNeg: {"NEG", 0},
	OpNot: {"NOT", 0},
	OpEq:  {"EQ", 0},
	OpNe:  {"NE", 0},
	OpLt:  {"LT", 0},
	OpLe:  {"LE", 0},
	OpGt:  {"GT", 0},
	OpGe:  {"GE", 0},

	OpJump:      {"JUMP", 4},
	OpJumpIf:    {"JUMP_IF", 4},
	OpJumpIfNot: {"JUMP_IF_NOT", 4},
	OpIterNext:  {"ITER_NEXT", 4},

	OpCall:       {"CALL", 9},
	OpCallFn:     {"CALL_FN", 1},
	OpClosure:    {"CLOSURE", 9},
	OpReturn:     {"RETURN", 0},
	OpReturnUnit: {"RETURN_UNIT", 0},
	OpAwait:      {"AWAIT", 0},

	OpVec:    {"VEC", 2},
	OpTuple:  {"TUPLE", 2},
	OpObject: {"OBJECT", 2},

	OpSome: {"SOME", 0},
	OpNone: {"NONE", 0},
	OpOk:   {"OK", 0},
	OpErr:  {"ERR", 0},

	OpIndexGet: {"INDEX_GET", 0},
	OpIndexSet: {"INDEX_SET", 0},
	OpRaise:    {"RAISE", 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// instrReader walks an instruction stream for linking and disassembly.
// The dispatch loop decodes inline instead, for speed. A read past the
// end of the stream sets the sticky truncated flag and yields zeros;
// callers check the flag after walking, since unit bytes may come from
// an untrusted wire source.
type instrReader struct {
	code      []byte
	pos       int
	truncated bool
}

var zeroOperand [8]byte

func (r *instrReader) hasMore() bool { return !r.truncated && r.pos < len(r.code) }

// take returns the next n operand bytes, or zeros once truncated.
func (r *instrReader) take(n int) []byte {
	if r.pos+n > len(r.code) {
		r.truncated = true
		r.pos = len(r.code)
		return zeroOperand[:n]
	}
	b := r.code[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *instrReader) readOpcode() Opcode { return Opcode(r.take(1)[0]) }

func (r *instrReader) readByte() byte { return r.take(1)[0] }

func (r *instrReader) readUint16() uint16 {
	return binary.LittleEndian.Uint16(r.take(2))
}

func (r *instrReader) readUint32() uint32 {
	return binary.LittleEndian.Uint32(r.take(4))
}

func (r *instrReader) readUint64() uint64 {
	return binary.LittleEndian.Uint64(r.take(8))
}

func (r *instrReader) skip(n int) {
	if r.pos+n > len(r.code) {
		r.truncated = true
		r.pos = len(r.code)
		return
	}
	r.pos += n
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders the unit's instruction stream, one instruction
// per line, with export entry points labeled.
func Disassemble(u *Unit) string {
	entries := make(map[uint32]string)
	for _, exp := range u.Exports {
		entries[exp.Offset] = exp.Name
	}

	r := &instrReader{code: u.Code}
	var b strings.Builder
	for r.hasMore() {
		pos := uint32(r.pos)
		if name, ok := entries[pos]; ok {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "fn %s:\n", name)
		}
		line := disassembleOne(r, pos)
		if r.truncated {
			line = fmt.Sprintf("%04d  <truncated>", pos)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func disassembleOne(r *instrReader, pos uint32) string {
	op := r.readOpcode()
	info := op.Info()

	switch op {
	case OpCopy, OpReplace, OpVec, OpTuple, OpObject:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.readUint16())
	case OpPushInt:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, int64(r.readUint64()))
	case OpPushByte:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.readByte())
	case OpPushChar:
		return fmt.Sprintf("%04d  %s %q", pos, info.Name, rune(r.readUint32()))
	case OpPushConst:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.readUint32())
	case OpJump, OpJumpIf, OpJumpIfNot, OpIterNext:
		return fmt.Sprintf("%04d  %s -> %04d", pos, info.Name, r.readUint32())
	case OpCall, OpClosure:
		hash := Hash(r.readUint64())
		n := r.readByte()
		return fmt.Sprintf("%04d  %s %s %d", pos, info.Name, hash, n)
	case OpCallFn:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.readByte())
	default:
		r.skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}
