package vm

import "fmt"

// ---------------------------------------------------------------------------
// Host boundary conversions
// ---------------------------------------------------------------------------

// FromGo converts a native Go value into a VM Value. Primitives,
// strings, byte slices, []any, and map[string]any convert
// structurally; anything else must be wrapped explicitly with NewAny.
func FromGo(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return UnitValue, nil
	case bool:
		return NewBool(t), nil
	case byte:
		return NewByte(t), nil
	case rune:
		return NewChar(t), nil
	case int:
		return NewInt(int64(t)), nil
	case int64:
		return NewInt(t), nil
	case float64:
		return NewFloat(t), nil
	case string:
		return NewString(t), nil
	case []byte:
		dup := make([]byte, len(t))
		copy(dup, t)
		return NewBytes(dup), nil
	case Value:
		return t, nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			item, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return NewVec(items...), nil
	case map[string]any:
		obj := NewObject()
		for k, e := range t {
			field, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			obj.SetField(k, field)
		}
		return obj, nil
	default:
		return Value{}, fmt.Errorf("vm: cannot convert %T; wrap it with NewAny", v)
	}
}

// ToGo converts a VM Value back into plain Go data. Any values unwrap
// to their native object; Function and Future values do not convert.
func ToGo(v Value) (any, error) {
	switch v.Kind() {
	case KindUnit:
		return nil, nil
	case KindBool:
		return v.Bool(), nil
	case KindByte:
		return v.Byte(), nil
	case KindChar:
		return v.Char(), nil
	case KindInt:
		return v.Int(), nil
	case KindFloat:
		return v.Float(), nil
	case KindString:
		return v.Str(), nil
	case KindBytes:
		b := v.Bytes()
		dup := make([]byte, len(b))
		copy(dup, b)
		return dup, nil
	case KindVec, KindTuple:
		items := v.items()
		out := make([]any, len(items))
		for i, item := range items {
			e, err := ToGo(item)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case KindObject:
		out := make(map[string]any, v.Len())
		for k, field := range v.fields() {
			e, err := ToGo(field)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil
	case KindOption:
		some, inner := v.Option()
		if !some {
			return nil, nil
		}
		return ToGo(inner)
	case KindResult:
		ok, inner := v.Result()
		e, err := ToGo(inner)
		if err != nil {
			return nil, err
		}
		if ok {
			return e, nil
		}
		return nil, fmt.Errorf("vm: Err value: %v", e)
	case KindAny:
		return v.ref.data.(*anyPayload).value, nil
	default:
		return nil, fmt.Errorf("vm: cannot convert %s value to Go", v.Kind())
	}
}
