package wire

import (
	"testing"

	"github.com/veldt-lang/veldt/vm"
)

// buildUnit assembles a small unit exercising code, constants,
// exports, and debug spans.
func buildUnit(t *testing.T) *vm.Unit {
	t.Helper()
	b := vm.NewUnitBuilder()
	if err := b.Export("main", 0); err != nil {
		t.Fatalf("export: %v", err)
	}
	b.Span(0, 12)
	b.EmitPushString("hello")
	b.EmitPushInt(5)
	b.Emit(vm.OpReturn)
	return b.Build()
}

// TestUnitRoundTrip verifies a decoded unit behaves identically to the
// original by running it.
func TestUnitRoundTrip(t *testing.T) {
	u := buildUnit(t)
	data, err := MarshalUnit(u)
	if err != nil {
		t.Fatalf("MarshalUnit: %v", err)
	}
	back, err := UnmarshalUnit(data)
	if err != nil {
		t.Fatalf("UnmarshalUnit: %v", err)
	}

	if string(back.Code) != string(u.Code) {
		t.Error("code changed across the wire")
	}
	exp, ok := back.LookupName("main")
	if !ok || exp.Arity != 0 {
		t.Fatalf("export main lost: %+v (%v)", exp, ok)
	}
	if span, ok := back.SpanAt(0); !ok || span.End != 12 {
		t.Errorf("debug span lost: %+v (%v)", span, ok)
	}

	ex, err := vm.NewExecution(back, vm.NewContextBuilder().Build(), "main", nil, vm.Limits{})
	if err != nil {
		t.Fatalf("NewExecution: %v", err)
	}
	out, err := ex.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if out.Kind != vm.OutcomeComplete || out.Value.Int() != 5 {
		t.Errorf("decoded unit ran to %v, want Complete(5)", out)
	}
}

// TestMarshalIsCanonical verifies repeated encoding yields identical
// bytes, which the digest-keyed store depends on.
func TestMarshalIsCanonical(t *testing.T) {
	a, err := MarshalUnit(buildUnit(t))
	if err != nil {
		t.Fatalf("MarshalUnit: %v", err)
	}
	b, err := MarshalUnit(buildUnit(t))
	if err != nil {
		t.Fatalf("MarshalUnit: %v", err)
	}
	if string(a) != string(b) {
		t.Error("canonical encodings differ for identical units")
	}
}

// TestUnitDigestDistinguishesUnits verifies the digest changes with
// content.
func TestUnitDigestDistinguishesUnits(t *testing.T) {
	d1, err := UnitDigest(buildUnit(t))
	if err != nil {
		t.Fatalf("UnitDigest: %v", err)
	}
	d2, err := UnitDigest(buildUnit(t))
	if err != nil {
		t.Fatalf("UnitDigest: %v", err)
	}
	if d1 != d2 {
		t.Error("identical units got different digests")
	}

	b := vm.NewUnitBuilder()
	if err := b.Export("other", 0); err != nil {
		t.Fatal(err)
	}
	b.Emit(vm.OpReturnUnit)
	d3, err := UnitDigest(b.Build())
	if err != nil {
		t.Fatalf("UnitDigest: %v", err)
	}
	if d3 == d1 {
		t.Error("different units collided")
	}
}

// TestInputsDigestIsOrderSensitive verifies the link cache key keeps
// input order, since linking is order-dependent.
func TestInputsDigestIsOrderSensitive(t *testing.T) {
	a := buildUnit(t)
	b := vm.NewUnitBuilder()
	if err := b.Export("lib", 0); err != nil {
		t.Fatal(err)
	}
	b.Emit(vm.OpReturnUnit)
	u2 := b.Build()

	d1, err := InputsDigest(a, u2)
	if err != nil {
		t.Fatalf("InputsDigest: %v", err)
	}
	d2, err := InputsDigest(u2, a)
	if err != nil {
		t.Fatalf("InputsDigest: %v", err)
	}
	if d1 == d2 {
		t.Error("input order did not change the digest")
	}
}
