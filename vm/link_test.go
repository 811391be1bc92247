package vm

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Linker tests
// ---------------------------------------------------------------------------

// TestLinkSingleUnitRuns verifies the degenerate case.
func TestLinkSingleUnitRuns(t *testing.T) {
	b := NewUnitBuilder()
	mustExport(t, b, "main", 0)
	b.EmitPushInt(1)
	b.Emit(OpReturn)

	linked, err := Link(b.Build())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if v := expectComplete(t, runMain(t, linked, nil)); v.Int() != 1 {
		t.Errorf("main() = %s, want 1", v)
	}
}

// TestLinkCrossUnitCall links two units and calls from one into the
// other: the library unit comes second, so every offset in it moves.
//
//	lib:  triple(n) { n * 3 }
//	app:  main() { triple(14) }
func TestLinkCrossUnitCall(t *testing.T) {
	app := NewUnitBuilder()
	mustExport(t, app, "main", 0)
	app.EmitPushInt(14)
	app.EmitCall("triple", 1)
	app.Emit(OpReturn)

	lib := NewUnitBuilder()
	mustExport(t, lib, "triple", 1)
	lib.EmitU16(OpCopy, 0)
	lib.EmitPushInt(3)
	lib.Emit(OpMul)
	lib.Emit(OpReturn)

	linked, err := Link(app.Build(), lib.Build())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if v := expectComplete(t, runMain(t, linked, nil)); v.Int() != 42 {
		t.Errorf("main() = %s, want 42", v)
	}
}

// TestLinkRebasesJumpsAndConstants puts a unit with internal jumps and
// pool references second, where both its instruction offsets and its
// constant indices shift.
//
//	second unit:  pick(flag) { if flag { "yes" } else { "no" } }
func TestLinkRebasesJumpsAndConstants(t *testing.T) {
	first := NewUnitBuilder()
	mustExport(t, first, "main", 0)
	first.EmitPushString("pad") // occupies constant index 0 of the linked pool
	first.Emit(OpPop)
	first.Emit(OpPushTrue)
	first.EmitCall("pick", 1)
	first.Emit(OpReturn)

	second := NewUnitBuilder()
	mustExport(t, second, "pick", 1)
	elseBranch := second.NewLabel()
	second.EmitU16(OpCopy, 0)
	second.EmitJump(OpJumpIfNot, elseBranch)
	second.EmitPushString("yes")
	second.Emit(OpReturn)
	second.Mark(elseBranch)
	second.EmitPushString("no")
	second.Emit(OpReturn)

	linked, err := Link(first.Build(), second.Build())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	if v := expectComplete(t, runMain(t, linked, nil)); v.Str() != "yes" {
		t.Errorf("pick(true) = %s, want \"yes\"", v)
	}

	ex, err := NewExecution(linked, NewContextBuilder().Build(), "pick",
		[]Value{NewBool(false)}, Limits{})
	if err != nil {
		t.Fatalf("NewExecution: %v", err)
	}
	out, err := ex.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if v := expectComplete(t, out); v.Str() != "no" {
		t.Errorf("pick(false) = %s, want \"no\"", v)
	}
}

// TestLinkDuplicateExportFails verifies two units exporting "main" is
// a LinkError naming the clash, with no partially linked unit.
func TestLinkDuplicateExportFails(t *testing.T) {
	a := NewUnitBuilder()
	mustExport(t, a, "main", 0)
	a.Emit(OpReturnUnit)

	b := NewUnitBuilder()
	mustExport(t, b, "main", 0)
	b.Emit(OpReturnUnit)

	linked, err := Link(a.Build(), b.Build())
	if linked != nil {
		t.Error("Link returned a unit alongside the error")
	}
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want LinkError", err)
	}
	if le.Name != "main" {
		t.Errorf("LinkError.Name = %q, want main", le.Name)
	}
}

// TestLinkIsDeterministic verifies byte-identical output for the same
// input order.
func TestLinkIsDeterministic(t *testing.T) {
	build := func() []*Unit {
		a := NewUnitBuilder()
		if err := a.Export("one", 0); err != nil {
			t.Fatal(err)
		}
		a.EmitPushString("s")
		a.Emit(OpReturn)
		b := NewUnitBuilder()
		if err := b.Export("two", 0); err != nil {
			t.Fatal(err)
		}
		done := b.NewLabel()
		b.EmitJump(OpJump, done)
		b.Mark(done)
		b.Emit(OpReturnUnit)
		return []*Unit{a.Build(), b.Build()}
	}

	u1, err := Link(build()...)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	u2, err := Link(build()...)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if string(u1.Code) != string(u2.Code) {
		t.Error("linked code differs across identical link runs")
	}
	if len(u1.Constants) != len(u2.Constants) {
		t.Error("linked constant pools differ across identical link runs")
	}
}

// TestLinkRebasesDebugSpans verifies debug offsets move with their
// instructions.
func TestLinkRebasesDebugSpans(t *testing.T) {
	a := NewUnitBuilder()
	mustExport(t, a, "one", 0)
	a.EmitPushInt(1) // 9 bytes
	a.Emit(OpReturn) // 1 byte
	au := a.Build()

	b := NewUnitBuilder()
	mustExport(t, b, "two", 0)
	b.Span(7, 9)
	b.Emit(OpReturnUnit)
	bu := b.Build()

	linked, err := Link(au, bu)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	exp, ok := linked.LookupName("two")
	if !ok {
		t.Fatal("export two missing after link")
	}
	span, ok := linked.SpanAt(exp.Offset)
	if !ok || span.Start != 7 {
		t.Errorf("SpanAt(%d) = %+v (%v), want start 7", exp.Offset, span, ok)
	}
}

// TestVerifyLinked verifies the post-link reference walk: a call that
// resolves in neither the unit nor the context is a LinkError, while a
// native-resolved call passes.
func TestVerifyLinked(t *testing.T) {
	b := NewUnitBuilder()
	mustExport(t, b, "main", 0)
	b.EmitCall("print", 0)
	b.Emit(OpReturn)
	u := b.Build()

	bare := NewContextBuilder().Build()
	var le *LinkError
	if err := VerifyLinked(u, bare); !errors.As(err, &le) {
		t.Errorf("VerifyLinked without print = %v, want LinkError", err)
	}

	cb := NewContextBuilder()
	cb.Function("print", 0, func(ex *Execution, args []Value) (Value, error) {
		return UnitValue, nil
	})
	if err := VerifyLinked(u, cb.Build()); err != nil {
		t.Errorf("VerifyLinked with print registered = %v, want nil", err)
	}
}

// TestLinkTruncatedStreamFails verifies a unit whose final instruction
// is cut off mid-operand is rejected instead of read out of bounds.
// Unit bytes can come from an untrusted wire source.
func TestLinkTruncatedStreamFails(t *testing.T) {
	cases := map[string][]byte{
		"jump mid-target": {byte(OpJump), 0x01},
		"call mid-hash":   {byte(OpCall), 1, 2, 3},
		"const mid-index": {byte(OpPushConst), 9},
		"call no-argc":    {byte(OpCall), 1, 2, 3, 4, 5, 6, 7, 8},
	}
	for name, code := range cases {
		var le *LinkError
		if _, err := Link(&Unit{Code: code}, &Unit{}); !errors.As(err, &le) {
			t.Errorf("%s: Link = %v, want LinkError", name, err)
		} else if !strings.Contains(le.Msg, "truncated") {
			t.Errorf("%s: Link error = %q, want truncated stream", name, le.Msg)
		}
	}
}

// TestVerifyLinkedTruncatedStream verifies the reference walk rejects a
// stream whose final CALL is missing operand bytes.
func TestVerifyLinkedTruncatedStream(t *testing.T) {
	u := &Unit{Code: []byte{byte(OpCall), 1, 2}}
	var le *LinkError
	if err := VerifyLinked(u, nil); !errors.As(err, &le) {
		t.Errorf("VerifyLinked = %v, want LinkError", err)
	} else if !strings.Contains(le.Msg, "truncated") {
		t.Errorf("VerifyLinked error = %q, want truncated stream", le.Msg)
	}
}
