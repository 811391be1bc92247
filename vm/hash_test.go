package vm

import "testing"

// ---------------------------------------------------------------------------
// Symbol and value hashing tests
// ---------------------------------------------------------------------------

// TestNameHashIsStable pins the derivation: the same qualified name
// must hash identically in every process, or serialized call sites
// would stop resolving.
func TestNameHashIsStable(t *testing.T) {
	a := NameHash("http::get")
	b := NameHash("http::get")
	if a != b {
		t.Fatalf("NameHash not deterministic: %s vs %s", a, b)
	}
	if NameHash("http::get") == NameHash("http::post") {
		t.Error("distinct names produced the same hash")
	}
}

// TestTypeHashIsSeparateSpace verifies a type named like a function
// does not collide with it.
func TestTypeHashIsSeparateSpace(t *testing.T) {
	if NameHash("Conn") == TypeHash("Conn") {
		t.Error("function and type hash spaces overlap")
	}
}

// mustHash hashes v or fails the test.
func mustHash(t *testing.T, v Value) Hash {
	t.Helper()
	h, err := HashValue(v)
	if err != nil {
		t.Fatalf("HashValue(%s): %v", v, err)
	}
	return h
}

// TestEqualValuesHashEqually checks the contract with Equal across the
// hashable kinds, including the Int/Float coercion.
func TestEqualValuesHashEqually(t *testing.T) {
	pairs := []struct {
		name string
		a, b Value
	}{
		{"int", NewInt(42), NewInt(42)},
		{"int float", NewInt(3), NewFloat(3.0)},
		{"neg zero", NewFloat(0.0), NewFloat(negZero())},
		{"string", NewString("veldt"), NewString("veldt")},
		{"bytes", NewBytes([]byte{1, 2, 3}), NewBytes([]byte{1, 2, 3})},
		{"vec", NewVec(NewInt(1), NewString("x")), NewVec(NewInt(1), NewString("x"))},
		{"tuple", NewTuple(NewBool(true)), NewTuple(NewBool(true))},
		{"some", NewSome(NewInt(1)), NewSome(NewInt(1))},
		{"none", NoneValue(), NoneValue()},
		{"ok", NewOk(NewInt(1)), NewOk(NewInt(1))},
	}
	for _, tc := range pairs {
		eq, err := Equal(tc.a, tc.b)
		if err != nil || !eq {
			t.Errorf("%s: Equal = %v, %v, want true", tc.name, eq, err)
			continue
		}
		if ha, hb := mustHash(t, tc.a), mustHash(t, tc.b); ha != hb {
			t.Errorf("%s: equal values hash %s vs %s", tc.name, ha, hb)
		}
	}
}

func negZero() float64 {
	z := 0.0
	return -z
}

// TestObjectHashOrderIndependent verifies insertion order does not
// leak into the hash.
func TestObjectHashOrderIndependent(t *testing.T) {
	a := NewObject()
	a.SetField("x", NewInt(1))
	a.SetField("y", NewString("s"))

	b := NewObject()
	b.SetField("y", NewString("s"))
	b.SetField("x", NewInt(1))

	if ha, hb := mustHash(t, a), mustHash(t, b); ha != hb {
		t.Errorf("field order changed the hash: %s vs %s", ha, hb)
	}
}

// TestDistinctValuesHashDistinctly is a sanity check, not a collision
// proof: the obvious near misses must not collide.
func TestDistinctValuesHashDistinctly(t *testing.T) {
	pairs := []struct {
		name string
		a, b Value
	}{
		{"int", NewInt(1), NewInt(2)},
		{"kind tag", NewString("1"), NewBytes([]byte("1"))},
		{"some none", NewSome(NewInt(1)), NoneValue()},
		{"ok err", NewOk(NewInt(1)), NewErr(NewInt(1))},
		{"vec tuple", NewVec(NewInt(1)), NewTuple(NewInt(1))},
		{"nesting", NewVec(NewVec(NewInt(1))), NewVec(NewInt(1))},
	}
	for _, tc := range pairs {
		if ha, hb := mustHash(t, tc.a), mustHash(t, tc.b); ha == hb {
			t.Errorf("%s: distinct values collided at %s", tc.name, ha)
		}
	}
}

// TestUnhashableKinds verifies identity-equality kinds refuse to hash,
// directly and inside containers.
func TestUnhashableKinds(t *testing.T) {
	_, futVal := NewFuture()
	values := []Value{
		futVal,
		NewAny("db::Conn", 1),
		NewVec(futVal.Share()),
		NewSome(NewAny("db::Conn", 2)),
	}
	for _, v := range values {
		if _, err := HashValue(v); err == nil {
			t.Errorf("HashValue(%s) succeeded, want TypeMismatch fault", v)
		}
	}
}
