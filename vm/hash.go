package vm

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Hash identifies an exported function, a native callable, or a
// registered type. Hashes are the unit of symbol resolution: the
// dispatch loop never sees names, only hashes, so two distinct
// qualified names must never collide. Deriving the 64-bit value from
// SHA-256 makes an accidental collision effectively impossible.
type Hash uint64

// NameHash returns the hash of a qualified name such as "main" or
// "http::get". The same name always produces the same hash, on every
// platform and in every process.
func NameHash(name string) Hash {
	sum := sha256.Sum256([]byte(name))
	return Hash(binary.LittleEndian.Uint64(sum[:8]))
}

// TypeHash returns the hash identifying a registered native type.
// Type hashes live in the same 64-bit space as function hashes but the
// two tables are never cross-consulted.
func TypeHash(name string) Hash {
	sum := sha256.Sum256([]byte("type::" + name))
	return Hash(binary.LittleEndian.Uint64(sum[:8]))
}

// String formats the hash the way diagnostics print it.
func (h Hash) String() string {
	return fmt.Sprintf("0x%016x", uint64(h))
}

// ---------------------------------------------------------------------------
// Value hashing
// ---------------------------------------------------------------------------

// FNV-1a constants, used to fold element hashes into container hashes.
const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

func mix(h uint64, b byte) uint64 {
	return (h ^ uint64(b)) * fnvPrime
}

func mix64(h, v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for _, b := range buf {
		h = mix(h, b)
	}
	return h
}

// HashValue returns a stable hash for v, consistent with Equal: equal
// values always hash identically. Only hashable kinds participate;
// Function, Future, and Any values (and containers holding them)
// return a TypeMismatch fault because their equality is identity, not
// structure.
func HashValue(v Value) (Hash, error) {
	h, err := hashValue(v, fnvOffset)
	return Hash(h), err
}

func hashValue(v Value, h uint64) (uint64, error) {
	// Int and Float compare equal by numeric value, so both hash
	// through the float representation under a shared tag. -0.0 is
	// folded into +0.0 for the same reason.
	if v.kind == KindInt || v.kind == KindFloat {
		h = mix(h, byte(KindFloat))
		f, _ := numericAsFloat(v)
		if f == 0 {
			f = 0
		}
		return mix64(h, math.Float64bits(f)), nil
	}

	h = mix(h, byte(v.kind))
	switch v.kind {
	case KindUnit:
		return h, nil
	case KindBool, KindByte, KindChar:
		return mix64(h, v.bits), nil
	case KindString:
		sum := sha256.Sum256([]byte(v.Str()))
		return mix64(h, binary.LittleEndian.Uint64(sum[:8])), nil
	case KindBytes:
		sum := sha256.Sum256(v.Bytes())
		return mix64(h, binary.LittleEndian.Uint64(sum[:8])), nil
	case KindVec, KindTuple:
		items := v.items()
		h = mix64(h, uint64(len(items)))
		for _, item := range items {
			var err error
			if h, err = hashValue(item, h); err != nil {
				return 0, err
			}
		}
		return h, nil
	case KindObject:
		// Insertion order is irrelevant, so fold field hashes with an
		// order-independent combination.
		fields := v.fields()
		h = mix64(h, uint64(len(fields)))
		var acc uint64
		for key, field := range fields {
			kh := mix64(fnvOffset, NameHash(key).uint64())
			fh, err := hashValue(field, kh)
			if err != nil {
				return 0, err
			}
			acc += fh
		}
		return mix64(h, acc), nil
	case KindOption:
		some, inner := v.Option()
		if !some {
			return mix(h, 0), nil
		}
		return hashValue(inner, mix(h, 1))
	case KindResult:
		ok, inner := v.Result()
		if ok {
			h = mix(h, 1)
		} else {
			h = mix(h, 0)
		}
		return hashValue(inner, h)
	default:
		return 0, newFault(FaultTypeMismatch, "value of kind %s is not hashable", v.kind)
	}
}

func (h Hash) uint64() uint64 { return uint64(h) }
