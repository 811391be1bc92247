package wire

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/veldt-lang/veldt/vm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "units.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestPutGetRoundTrip stores a unit and reads it back by digest.
func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	u := buildUnit(t)

	d, err := s.Put(u)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	want, err := UnitDigest(u)
	if err != nil {
		t.Fatalf("UnitDigest: %v", err)
	}
	if d != want {
		t.Errorf("Put digest = %s, want %s", d, want)
	}

	back, err := s.Get(d)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(back.Code) != string(u.Code) {
		t.Error("stored unit code differs after load")
	}
}

// TestPutIsIdempotent verifies storing the same unit twice succeeds
// and yields one digest.
func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	u := buildUnit(t)

	d1, err := s.Put(u)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	d2, err := s.Put(u)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if d1 != d2 {
		t.Errorf("digests differ: %s vs %s", d1, d2)
	}
}

// TestGetMissingDigest verifies the not-found sentinel.
func TestGetMissingDigest(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(Digest{1, 2, 3}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on empty store = %v, want ErrNotFound", err)
	}
}

// linkInputs builds the two-unit program used by the cache tests:
// main in one unit calling into the other.
func linkInputs(t *testing.T) []*vm.Unit {
	t.Helper()
	app := vm.NewUnitBuilder()
	if err := app.Export("main", 0); err != nil {
		t.Fatal(err)
	}
	app.EmitPushInt(20)
	app.EmitCall("double", 1)
	app.Emit(vm.OpReturn)

	lib := vm.NewUnitBuilder()
	if err := lib.Export("double", 1); err != nil {
		t.Fatal(err)
	}
	lib.EmitU16(vm.OpCopy, 0)
	lib.EmitU16(vm.OpCopy, 0)
	lib.Emit(vm.OpAdd)
	lib.Emit(vm.OpReturn)

	return []*vm.Unit{app.Build(), lib.Build()}
}

// runLinked executes main() on a linked unit.
func runLinked(t *testing.T, u *vm.Unit) vm.Value {
	t.Helper()
	ex, err := vm.NewExecution(u, vm.NewContextBuilder().Build(), "main", nil, vm.Limits{})
	if err != nil {
		t.Fatalf("NewExecution: %v", err)
	}
	out, err := ex.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if out.Kind != vm.OutcomeComplete {
		t.Fatalf("outcome = %v, want Complete", out.Kind)
	}
	return out.Value
}

// TestLinkCached verifies the memoized path returns a unit equivalent
// to a fresh link, on both the miss and the hit.
func TestLinkCached(t *testing.T) {
	s := openTestStore(t)

	miss, err := s.LinkCached(linkInputs(t)...)
	if err != nil {
		t.Fatalf("LinkCached (miss): %v", err)
	}
	if v := runLinked(t, miss); v.Int() != 40 {
		t.Errorf("main() via miss = %s, want 40", v)
	}

	hit, err := s.LinkCached(linkInputs(t)...)
	if err != nil {
		t.Fatalf("LinkCached (hit): %v", err)
	}
	if string(hit.Code) != string(miss.Code) {
		t.Error("cached link result differs from fresh link")
	}
	if v := runLinked(t, hit); v.Int() != 40 {
		t.Errorf("main() via hit = %s, want 40", v)
	}
}

// TestLinkCachedPropagatesLinkErrors verifies a failing link is not
// cached and the error surfaces unchanged.
func TestLinkCachedPropagatesLinkErrors(t *testing.T) {
	s := openTestStore(t)

	a := vm.NewUnitBuilder()
	if err := a.Export("main", 0); err != nil {
		t.Fatal(err)
	}
	a.Emit(vm.OpReturnUnit)
	b := vm.NewUnitBuilder()
	if err := b.Export("main", 0); err != nil {
		t.Fatal(err)
	}
	b.Emit(vm.OpReturnUnit)

	_, err := s.LinkCached(a.Build(), b.Build())
	var le *vm.LinkError
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want LinkError", err)
	}
}
