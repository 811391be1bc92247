package vm

import "testing"

// ---------------------------------------------------------------------------
// Go conversion tests
// ---------------------------------------------------------------------------

// TestFromGoScalars maps each supported Go scalar into its kind.
func TestFromGoScalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		kind Kind
	}{
		{"nil", nil, KindUnit},
		{"bool", true, KindBool},
		{"byte", byte(7), KindByte},
		{"rune", 'x', KindChar},
		{"int", 42, KindInt},
		{"int64", int64(42), KindInt},
		{"float64", 1.5, KindFloat},
		{"string", "s", KindString},
		{"bytes", []byte{1}, KindBytes},
	}
	for _, tc := range cases {
		v, err := FromGo(tc.in)
		if err != nil {
			t.Errorf("%s: FromGo error %v", tc.name, err)
			continue
		}
		if v.Kind() != tc.kind {
			t.Errorf("%s: kind = %s, want %s", tc.name, v.Kind(), tc.kind)
		}
	}
}

// TestFromGoCopiesByteSlices verifies the VM value owns its storage.
func TestFromGoCopiesByteSlices(t *testing.T) {
	src := []byte{1, 2}
	v, err := FromGo(src)
	if err != nil {
		t.Fatalf("FromGo: %v", err)
	}
	src[0] = 9
	if v.Bytes()[0] != 1 {
		t.Error("FromGo aliased the caller's byte slice")
	}
}

// TestFromGoAggregates converts nested slices and maps.
func TestFromGoAggregates(t *testing.T) {
	v, err := FromGo([]any{1, "two", []any{true}})
	if err != nil {
		t.Fatalf("FromGo slice: %v", err)
	}
	if v.Kind() != KindVec || v.Len() != 3 {
		t.Fatalf("converted = %s, want a 3-element Vec", v)
	}
	nested, _ := v.At(2)
	if nested.Kind() != KindVec {
		t.Errorf("nested element = %s, want Vec", nested)
	}

	m, err := FromGo(map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("FromGo map: %v", err)
	}
	if field, ok := m.Field("n"); !ok || field.Int() != 1 {
		t.Errorf("converted object field n = %v (%v), want 1", field, ok)
	}
}

// TestFromGoRejectsUnknownTypes verifies opaque Go values must come in
// through NewAny, never implicitly.
func TestFromGoRejectsUnknownTypes(t *testing.T) {
	type opaque struct{}
	if _, err := FromGo(opaque{}); err == nil {
		t.Error("FromGo accepted an arbitrary struct")
	}
}

// TestToGoRoundTrip spot-checks the inverse direction.
func TestToGoRoundTrip(t *testing.T) {
	v, err := FromGo([]any{int64(1), "two"})
	if err != nil {
		t.Fatalf("FromGo: %v", err)
	}
	back, err := ToGo(v)
	if err != nil {
		t.Fatalf("ToGo: %v", err)
	}
	slice, ok := back.([]any)
	if !ok || len(slice) != 2 {
		t.Fatalf("ToGo = %#v, want 2-element []any", back)
	}
	if slice[0] != int64(1) || slice[1] != "two" {
		t.Errorf("ToGo = %#v, want [1 two]", slice)
	}
}

// TestToGoOptionAndResult pins the host-facing flattening: None is
// nil, Some unwraps, Ok unwraps, Err is a Go error.
func TestToGoOptionAndResult(t *testing.T) {
	if got, err := ToGo(NoneValue()); err != nil || got != nil {
		t.Errorf("ToGo(None) = %v, %v, want nil, nil", got, err)
	}
	if got, err := ToGo(NewSome(NewInt(3))); err != nil || got != int64(3) {
		t.Errorf("ToGo(Some(3)) = %v, %v, want 3", got, err)
	}
	if got, err := ToGo(NewOk(NewString("s"))); err != nil || got != "s" {
		t.Errorf("ToGo(Ok) = %v, %v, want s", got, err)
	}
	if _, err := ToGo(NewErr(NewString("bad"))); err == nil {
		t.Error("ToGo(Err) returned no error")
	}
}

// TestToGoAnyUnwraps verifies the wrapped native object comes back out
// untouched.
func TestToGoAnyUnwraps(t *testing.T) {
	type conn struct{ id int }
	c := &conn{id: 5}
	got, err := ToGo(NewAny("db::Conn", c))
	if err != nil {
		t.Fatalf("ToGo: %v", err)
	}
	if got != c {
		t.Errorf("ToGo(Any) = %#v, want the identical pointer", got)
	}
}

// TestToGoRejectsFunctions verifies function values do not leak out.
func TestToGoRejectsFunctions(t *testing.T) {
	fn := BytecodeFunction(Export{Name: "f"}, nil)
	if _, err := ToGo(fn); err == nil {
		t.Error("ToGo accepted a Function value")
	}
}
