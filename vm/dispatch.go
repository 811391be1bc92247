package vm

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run is the fetch-decode-execute cycle. It returns when the Execution
// completes, faults, or suspends on an unready future; all state it
// needs to continue later is already resident on the owned Stack.
func (ex *Execution) run() Outcome {
	code := ex.unit.Code
	s := ex.stack

	for {
		if int(ex.pc) >= len(code) {
			return ex.faultOut(newFault(FaultIndexOutOfBounds,
				"instruction pointer %d beyond code end %d", ex.pc, len(code)), ex.pc)
		}
		at := ex.pc
		op := Opcode(code[ex.pc])
		ex.pc++

		if ex.Trace != nil {
			ex.Trace(at, op)
		}

		switch op {
		// --- Stack manipulation ---
		case OpNop:

		case OpPop:
			if _, ok := s.pop(); !ok {
				return ex.underflow(at, op)
			}

		case OpDup:
			v, ok := s.top()
			if !ok {
				return ex.underflow(at, op)
			}
			s.push(v.Share())

		case OpSwap:
			b, ok1 := s.pop()
			a, ok2 := s.pop()
			if !ok1 || !ok2 {
				return ex.underflow(at, op)
			}
			s.push(b)
			s.push(a)

		case OpCloneTop:
			v, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			s.push(v.Clone())

		case OpCopy:
			off, f := ex.u16operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			v, ok := s.at(int(off))
			if !ok {
				return ex.faultOut(newFault(FaultIndexOutOfBounds,
					"frame slot %d out of range", off), at)
			}
			s.push(v.Share())

		case OpReplace:
			off, f := ex.u16operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			v, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			if !s.setAt(int(off), v) {
				return ex.faultOut(newFault(FaultIndexOutOfBounds,
					"frame slot %d out of range", off), at)
			}

		// --- Push constants ---
		case OpPushUnit:
			s.push(UnitValue)

		case OpPushTrue:
			s.push(NewBool(true))

		case OpPushFalse:
			s.push(NewBool(false))

		case OpPushInt:
			n, f := ex.u64operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			s.push(NewInt(int64(n)))

		case OpPushByte:
			b, f := ex.byteOperand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			s.push(NewByte(b))

		case OpPushChar:
			c, f := ex.u32operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			s.push(NewChar(rune(c)))

		case OpPushConst:
			idx, f := ex.u32operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			if int(idx) >= len(ex.unit.Constants) {
				return ex.faultOut(newFault(FaultIndexOutOfBounds,
					"constant index %d out of range (pool size %d)", idx, len(ex.unit.Constants)), at)
			}
			c := ex.unit.Constants[idx]
			v, ok := c.materialize()
			if !ok {
				return ex.faultOut(newFault(FaultTypeMismatch,
					"constant %d has unsupported kind %s", idx, c.Kind), at)
			}
			s.push(v)

		// --- Arithmetic ---
		case OpAdd, OpSub, OpMul, OpDiv, OpRem:
			b, ok1 := s.pop()
			a, ok2 := s.pop()
			if !ok1 || !ok2 {
				return ex.underflow(at, op)
			}
			v, f := arith(op, a, b)
			if f != nil {
				return ex.faultOut(f, at)
			}
			s.push(v)

		case OpNeg:
			a, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			switch a.Kind() {
			case KindInt:
				s.push(NewInt(-a.Int()))
			case KindFloat:
				s.push(NewFloat(-a.Float()))
			default:
				return ex.faultOut(newFault(FaultTypeMismatch, "cannot negate %s", a.Kind()), at)
			}

		case OpNot:
			a, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			if a.Kind() != KindBool {
				return ex.faultOut(newFault(FaultTypeMismatch, "cannot apply not to %s", a.Kind()), at)
			}
			s.push(NewBool(!a.Bool()))

		// --- Comparison ---
		case OpEq, OpNe:
			b, ok1 := s.pop()
			a, ok2 := s.pop()
			if !ok1 || !ok2 {
				return ex.underflow(at, op)
			}
			eq, err := Equal(a, b)
			if err != nil {
				f, _ := AsFault(err)
				return ex.faultOut(f, at)
			}
			if op == OpNe {
				eq = !eq
			}
			s.push(NewBool(eq))

		case OpLt, OpLe, OpGt, OpGe:
			b, ok1 := s.pop()
			a, ok2 := s.pop()
			if !ok1 || !ok2 {
				return ex.underflow(at, op)
			}
			cmp, err := Compare(a, b)
			if err != nil {
				f, _ := AsFault(err)
				return ex.faultOut(f, at)
			}
			var res bool
			switch op {
			case OpLt:
				res = cmp < 0
			case OpLe:
				res = cmp <= 0
			case OpGt:
				res = cmp > 0
			case OpGe:
				res = cmp >= 0
			}
			s.push(NewBool(res))

		// --- Control flow ---
		case OpJump:
			target, f := ex.u32operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			ex.pc = target

		case OpJumpIf, OpJumpIfNot:
			target, f := ex.u32operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			cond, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			if cond.Kind() != KindBool {
				return ex.faultOut(newFault(FaultTypeMismatch,
					"jump condition must be Bool, got %s", cond.Kind()), at)
			}
			if cond.Bool() == (op == OpJumpIf) {
				ex.pc = target
			}

		case OpIterNext:
			target, f := ex.u32operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			idx, ok1 := s.pop()
			vec, ok2 := s.pop()
			if !ok1 || !ok2 {
				return ex.underflow(at, op)
			}
			if vec.Kind() != KindVec || idx.Kind() != KindInt {
				return ex.faultOut(newFault(FaultTypeMismatch,
					"iter-next expects Vec and Int, got %s and %s", vec.Kind(), idx.Kind()), at)
			}
			i := idx.Int()
			if i < 0 || i >= int64(vec.Len()) {
				ex.pc = target
				break
			}
			elem, _ := vec.At(int(i))
			s.push(vec)
			s.push(NewInt(i + 1))
			s.push(elem.Share())

		// --- Calling ---
		case OpCall:
			hash, f := ex.u64operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			argc, f := ex.byteOperand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			if f := ex.callHash(Hash(hash), int(argc), ex.pc); f != nil {
				return ex.faultOut(f, at)
			}

		case OpCallFn:
			argc, f := ex.byteOperand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			fnVal, ok := s.takeUnder(int(argc))
			if !ok {
				return ex.underflow(at, op)
			}
			if f := ex.callFunction(fnVal, int(argc), ex.pc); f != nil {
				return ex.faultOut(f, at)
			}

		case OpClosure:
			hash, f := ex.u64operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			nups, f := ex.byteOperand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			if f := ex.closure(Hash(hash), int(nups)); f != nil {
				return ex.faultOut(f, at)
			}

		case OpReturn, OpReturnUnit:
			var result Value
			if op == OpReturnUnit {
				result = UnitValue
			} else {
				v, ok := s.pop()
				if !ok {
					return ex.underflow(at, op)
				}
				result = v
			}
			frame, ok := s.popFrame(result)
			if !ok {
				return ex.faultOut(newFault(FaultIndexOutOfBounds, "return with no frame"), at)
			}
			if frame.ReturnPC == returnToHost {
				return ex.complete(result)
			}
			ex.pc = frame.ReturnPC

		case OpAwait:
			v, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			if v.Kind() != KindFuture {
				return ex.faultOut(newFault(FaultTypeMismatch,
					"await expects Future, got %s", v.Kind()), at)
			}
			fut := v.Future()
			if resolved, ready := fut.Take(); ready {
				s.push(resolved)
				break
			}
			return ex.suspend(fut)

		// --- Aggregates ---
		case OpVec, OpTuple:
			n, f := ex.u16operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			items, ok := s.popN(int(n))
			if !ok {
				return ex.underflow(at, op)
			}
			if op == OpVec {
				s.push(NewVec(items...))
			} else {
				s.push(NewTuple(items...))
			}

		case OpObject:
			n, f := ex.u16operand(code)
			if f != nil {
				return ex.faultOut(f, at)
			}
			pairs, ok := s.popN(int(n) * 2)
			if !ok {
				return ex.underflow(at, op)
			}
			obj := NewObject()
			for i := 0; i < len(pairs); i += 2 {
				key := pairs[i]
				if key.Kind() != KindString {
					return ex.faultOut(newFault(FaultTypeMismatch,
						"object key must be String, got %s", key.Kind()), at)
				}
				obj.SetField(key.Str(), pairs[i+1])
			}
			s.push(obj)

		// --- Option and Result ---
		case OpSome:
			v, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			s.push(NewSome(v))

		case OpNone:
			s.push(NoneValue())

		case OpOk:
			v, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			s.push(NewOk(v))

		case OpErr:
			v, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			s.push(NewErr(v))

		// --- Indexing ---
		case OpIndexGet:
			idx, ok1 := s.pop()
			target, ok2 := s.pop()
			if !ok1 || !ok2 {
				return ex.underflow(at, op)
			}
			v, f := indexGet(target, idx)
			if f != nil {
				return ex.faultOut(f, at)
			}
			s.push(v)

		case OpIndexSet:
			v, ok1 := s.pop()
			idx, ok2 := s.pop()
			target, ok3 := s.pop()
			if !ok1 || !ok2 || !ok3 {
				return ex.underflow(at, op)
			}
			if f := indexSet(target, idx, v); f != nil {
				return ex.faultOut(f, at)
			}

		// --- Fault signaling ---
		case OpRaise:
			v, ok := s.pop()
			if !ok {
				return ex.underflow(at, op)
			}
			f := &Fault{Kind: FaultRaised, Message: v.String(), Raised: v}
			return ex.faultOut(f, at)

		default:
			return ex.faultOut(newFault(FaultTypeMismatch,
				"unknown opcode 0x%02X", byte(op)), at)
		}
	}
}

func (ex *Execution) underflow(at uint32, op Opcode) Outcome {
	return ex.faultOut(newFault(FaultIndexOutOfBounds,
		"operand stack underflow in %s", op), at)
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (ex *Execution) byteOperand(code []byte) (byte, *Fault) {
	if int(ex.pc)+1 > len(code) {
		return 0, newFault(FaultIndexOutOfBounds, "truncated instruction at %d", ex.pc)
	}
	b := code[ex.pc]
	ex.pc++
	return b, nil
}

func (ex *Execution) u16operand(code []byte) (uint16, *Fault) {
	if int(ex.pc)+2 > len(code) {
		return 0, newFault(FaultIndexOutOfBounds, "truncated instruction at %d", ex.pc)
	}
	v := binary.LittleEndian.Uint16(code[ex.pc:])
	ex.pc += 2
	return v, nil
}

func (ex *Execution) u32operand(code []byte) (uint32, *Fault) {
	if int(ex.pc)+4 > len(code) {
		return 0, newFault(FaultIndexOutOfBounds, "truncated instruction at %d", ex.pc)
	}
	v := binary.LittleEndian.Uint32(code[ex.pc:])
	ex.pc += 4
	return v, nil
}

func (ex *Execution) u64operand(code []byte) (uint64, *Fault) {
	if int(ex.pc)+8 > len(code) {
		return 0, newFault(FaultIndexOutOfBounds, "truncated instruction at %d", ex.pc)
	}
	v := binary.LittleEndian.Uint64(code[ex.pc:])
	ex.pc += 8
	return v, nil
}

// ---------------------------------------------------------------------------
// Polymorphic arithmetic
// ---------------------------------------------------------------------------

// arith applies a binary numeric operation. Int with Int stays Int,
// any Float operand widens both sides to Float, Byte only combines
// with Byte (wrapping). Everything else is a TypeMismatch.
func arith(op Opcode, a, b Value) (Value, *Fault) {
	ak, bk := a.Kind(), b.Kind()

	switch {
	case ak == KindInt && bk == KindInt:
		return intArith(op, a.Int(), b.Int())
	case ak == KindByte && bk == KindByte:
		return byteArith(op, a.Byte(), b.Byte())
	case (ak == KindInt || ak == KindFloat) && (bk == KindInt || bk == KindFloat):
		x, _ := numericAsFloat(a)
		y, _ := numericAsFloat(b)
		return floatArith(op, x, y)
	default:
		return Value{}, newFault(FaultTypeMismatch,
			"cannot apply %s to %s and %s", op, ak, bk)
	}
}

func intArith(op Opcode, x, y int64) (Value, *Fault) {
	switch op {
	case OpAdd:
		return NewInt(x + y), nil
	case OpSub:
		return NewInt(x - y), nil
	case OpMul:
		return NewInt(x * y), nil
	case OpDiv:
		if y == 0 {
			return Value{}, newFault(FaultDivisionByZero, "%d / 0", x)
		}
		return NewInt(x / y), nil
	case OpRem:
		if y == 0 {
			return Value{}, newFault(FaultDivisionByZero, "%d %% 0", x)
		}
		return NewInt(x % y), nil
	}
	return Value{}, newFault(FaultTypeMismatch, "bad arithmetic opcode %s", op)
}

func byteArith(op Opcode, x, y byte) (Value, *Fault) {
	switch op {
	case OpAdd:
		return NewByte(x + y), nil
	case OpSub:
		return NewByte(x - y), nil
	case OpMul:
		return NewByte(x * y), nil
	case OpDiv:
		if y == 0 {
			return Value{}, newFault(FaultDivisionByZero, "%d / 0", x)
		}
		return NewByte(x / y), nil
	case OpRem:
		if y == 0 {
			return Value{}, newFault(FaultDivisionByZero, "%d %% 0", x)
		}
		return NewByte(x % y), nil
	}
	return Value{}, newFault(FaultTypeMismatch, "bad arithmetic opcode %s", op)
}

func floatArith(op Opcode, x, y float64) (Value, *Fault) {
	switch op {
	case OpAdd:
		return NewFloat(x + y), nil
	case OpSub:
		return NewFloat(x - y), nil
	case OpMul:
		return NewFloat(x * y), nil
	case OpDiv:
		// IEEE semantics: float division by zero yields an infinity.
		return NewFloat(x / y), nil
	case OpRem:
		return NewFloat(math.Mod(x, y)), nil
	}
	return Value{}, newFault(FaultTypeMismatch, "bad arithmetic opcode %s", op)
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

func indexGet(target, idx Value) (Value, *Fault) {
	switch target.Kind() {
	case KindVec, KindTuple:
		if idx.Kind() != KindInt {
			return Value{}, newFault(FaultTypeMismatch,
				"%s index must be Int, got %s", target.Kind(), idx.Kind())
		}
		v, ok := target.At(int(idx.Int()))
		if !ok {
			return Value{}, newFault(FaultIndexOutOfBounds,
				"index %d out of range (len %d)", idx.Int(), target.Len())
		}
		return v.Share(), nil
	case KindBytes:
		if idx.Kind() != KindInt {
			return Value{}, newFault(FaultTypeMismatch,
				"Bytes index must be Int, got %s", idx.Kind())
		}
		b := target.Bytes()
		i := idx.Int()
		if i < 0 || i >= int64(len(b)) {
			return Value{}, newFault(FaultIndexOutOfBounds,
				"index %d out of range (len %d)", i, len(b))
		}
		return NewByte(b[i]), nil
	case KindString:
		if idx.Kind() != KindInt {
			return Value{}, newFault(FaultTypeMismatch,
				"String index must be Int, got %s", idx.Kind())
		}
		runes := []rune(target.Str())
		i := idx.Int()
		if i < 0 || i >= int64(len(runes)) {
			return Value{}, newFault(FaultIndexOutOfBounds,
				"index %d out of range (len %d)", i, len(runes))
		}
		return NewChar(runes[i]), nil
	case KindObject:
		if idx.Kind() != KindString {
			return Value{}, newFault(FaultTypeMismatch,
				"Object key must be String, got %s", idx.Kind())
		}
		v, ok := target.Field(idx.Str())
		if !ok {
			return Value{}, newFault(FaultIndexOutOfBounds,
				"no field %q", idx.Str())
		}
		return v.Share(), nil
	default:
		return Value{}, newFault(FaultTypeMismatch, "cannot index %s", target.Kind())
	}
}

func indexSet(target, idx, v Value) *Fault {
	switch target.Kind() {
	case KindVec, KindTuple:
		if idx.Kind() != KindInt {
			return newFault(FaultTypeMismatch,
				"%s index must be Int, got %s", target.Kind(), idx.Kind())
		}
		if !target.SetAt(int(idx.Int()), v) {
			return newFault(FaultIndexOutOfBounds,
				"index %d out of range (len %d)", idx.Int(), target.Len())
		}
		return nil
	case KindBytes:
		if idx.Kind() != KindInt || v.Kind() != KindByte {
			return newFault(FaultTypeMismatch,
				"Bytes assignment needs Int index and Byte value")
		}
		b := target.Bytes()
		i := idx.Int()
		if i < 0 || i >= int64(len(b)) {
			return newFault(FaultIndexOutOfBounds,
				"index %d out of range (len %d)", i, len(b))
		}
		b[i] = v.Byte()
		return nil
	case KindObject:
		if idx.Kind() != KindString {
			return newFault(FaultTypeMismatch,
				"Object key must be String, got %s", idx.Kind())
		}
		target.SetField(idx.Str(), v)
		return nil
	default:
		return newFault(FaultTypeMismatch, "cannot index-assign %s", target.Kind())
	}
}
