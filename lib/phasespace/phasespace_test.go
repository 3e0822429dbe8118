package phasespace

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	g_error "github.com/phil-mansfield/phasedump/lib/error"
	"github.com/phil-mansfield/phasedump/lib/format"
	"github.com/phil-mansfield/phasedump/lib/geom"
	"github.com/phil-mansfield/phasedump/lib/hbuf"
	"github.com/phil-mansfield/phasedump/lib/mpi"
	"github.com/phil-mansfield/phasedump/lib/slab"
	"github.com/phil-mansfield/phasedump/lib/window"
)

var testUnits = Units{
	CellSize: [3]float32{ 0.5, 0.25, 2 },
	DeltaT: 0.125,
	UnitLength: 1e-6,
	UnitTime: 3e-15,
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := &geom.Domain{
		Dims: 3, LocalSize: [3]int{ 8, 12, 4 }, GlobalSize: [3]int{ 8, 12, 4 },
	}
	env := &Env{
		Comm: mpi.NewWorld(1).Comm(0), Domain: d,
		Tracker: &window.Static{ GlobalSize: d.GlobalSize }, Units: testUnits, Dir: dir,
	}
	req := &Request{
		Axes: format.Selector{ Spatial: 1, Momentum: 2 }, PRange: [2]float32{ -1.5, 2.5 },
		PUnit: 2.7e-22, Unit: 1e3, Step: 40,
	}

	buf := hbuf.New[float32](12, 5)
	for i := range buf.Data() { buf.Data()[i] = float32(i)*0.75 - 3 }

	if err := Dump(env, buf, req); err != nil { t.Fatal(err.Error()) }

	fname := filepath.Join(dir, "phaseSpace", "PhaseSpace_ypz_40.slab")
	f, err := slab.ReadFile(fname)
	if err != nil { t.Fatal(err.Error()) }
	ds, err := f.Dataset("ypz")
	if err != nil { t.Fatal(err.Error()) }

	if ds.Global != (slab.Dims{ 12, 5, 1 }) || ds.Step != 40 ||
		ds.Class != slab.GridType {
		t.Errorf("Expected a (12, 5, 1) grid dataset at step 40, got %+v.",
			ds.DatasetInfo)
	}

	x, err := slab.Values[float32](ds)
	if err != nil { t.Fatal(err.Error()) }
	for i := range x {
		if x[i] != buf.Data()[i] {
			t.Errorf("%d) Expected %g, got %g.", i, buf.Data()[i], x[i])
		}
	}

	exp := []struct{
		name string
		val interface{}
	} {
		{"sim_unit", 1e3},
		{"p_unit", 2.7e-22},
		{"p_min", float32(-1.5)},
		{"p_max", float32(2.5)},
		{"movingWindowOffset", int32(0)},
		{"movingWindowSize", int32(12)},
		{"dr", float32(0.25)},
		{"dV", float32(0.25)},
		{"dr_unit", 1e-6},
		{"dt", float32(0.125)},
		{"dt_unit", 3e-15},
	}
	if len(ds.Attrs) != len(exp) {
		t.Fatalf("Expected %d attributes, got %d.", len(exp), len(ds.Attrs))
	}
	for i := range exp {
		if ds.Attrs[i].Name != exp[i].name {
			t.Errorf("%d) Expected attribute '%s', got '%s'.",
				i, exp[i].name, ds.Attrs[i].Name)
		} else if ds.Attrs[i].Value() != exp[i].val {
			t.Errorf("%d) Expected %s = %v, got %v.", i, exp[i].name,
				exp[i].val, ds.Attrs[i].Value())
		}
	}
}

func TestContractViolation(t *testing.T) {
	d := &geom.Domain{
		Dims: 3, LocalSize: [3]int{ 12, 12, 12 },
		GlobalSize: [3]int{ 12, 12, 12 },
	}
	env := &Env{
		Comm: mpi.NewWorld(1).Comm(0), Domain: d,
		Tracker: &window.Static{ GlobalSize: d.GlobalSize }, Dir: t.TempDir(),
	}
	req := &Request{ Axes: format.Selector{ Spatial: 0, Momentum: 0 }, Step: 1 }

	defer func() {
		r := recover()
		if _, ok := r.(*g_error.ContractViolation); !ok {
			t.Errorf("Expected a *ContractViolation panic, got %v.", r)
		}
		matches, _ := filepath.Glob(filepath.Join(env.Dir, "*", "*"))
		if len(matches) != 0 {
			t.Errorf("Expected no files to be written, found %v.", matches)
		}
	}()
	Dump(env, hbuf.New[float64](10, 4), req)
}

func TestAxisOutOfRange(t *testing.T) {
	d := &geom.Domain{
		Dims: 2, LocalSize: [3]int{ 4, 4, 1 }, GlobalSize: [3]int{ 8, 4, 1 },
	}
	// Only one of the two ranks calls Dump, so any collective call would
	// block forever.
	env := &Env{
		Comm: mpi.NewWorld(2).Comm(0), Domain: d,
		Tracker: &window.Static{ GlobalSize: d.GlobalSize }, Dir: t.TempDir(),
	}

	axes := []format.Selector{ {Spatial: 2, Momentum: 0}, {Spatial: -1, Momentum: 0}, {Spatial: 0, Momentum: 3}, {Spatial: 3, Momentum: 3} }
	for i := range axes {
		req := &Request{ Axes: axes[i] }
		err := Dump(env, hbuf.New[int32](4, 3), req)
		if !errors.Is(err, format.ErrAxisRange) {
			t.Errorf("%d) Expected ErrAxisRange for %+v, got %v.",
				i, axes[i], err)
		}
	}
}

func TestIOFailure(t *testing.T) {
	// Dir is a regular file, so the output directory can't be created.
	dir := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(dir, []byte{ }, 0644); err != nil {
		t.Fatal(err.Error())
	}

	g := &geom.Grid{ Dims: 2, Ranks: [3]int{ 3, 1, 1 }, GlobalSize: [3]int{ 9, 1, 1 } }
	errs := make([]error, 3)
	mpi.Run(3, func(c mpi.Comm) error {
		env := &Env{
			Comm: c, Domain: g.Domain(c.Rank()), Position: g.Position(c.Rank()),
			Tracker: &window.Static{ GlobalSize: g.GlobalSize }, Dir: dir,
		}
		req := &Request{ Axes: format.Selector{ Spatial: 0, Momentum: 1 }, Step: 2 }
		errs[c.Rank()] = Dump(env, hbuf.New[uint64](3, 2), req)
		return nil
	})

	for rank, err := range errs {
		ioErr := &CollectiveIOError{ }
		if !errors.As(err, &ioErr) {
			t.Errorf("rank %d) Expected a *CollectiveIOError, got %v.",
				rank, err)
		} else if ioErr.Stage != Opened {
			t.Errorf("rank %d) Expected failure at %v, got %v.",
				rank, Opened, ioErr.Stage)
		}
	}
}

// runScenario dumps a plane from a 4 x 4 grid of ranks over a 100 x 100
// domain, after the window has slid twice.
func runScenario(t *testing.T, dir string, axis int) *slab.Dataset {
	g := &geom.Grid{ Dims: 2, Ranks: [3]int{ 4, 4, 1 }, GlobalSize: [3]int{ 100, 100, 1 } }
	tr := &window.Moving{
		GlobalSize: g.GlobalSize, LocalSize: [3]int{ 25, 25, 1 },
		CellsPerStep: 0.5,
	}
	req := &Request{
		Axes: format.Selector{ Spatial: axis, Momentum: 0 }, PRange: [2]float32{ -1, 1 },
		PUnit: 1, Unit: 1, Step: 100,
	}

	mu := &sync.Mutex{ }
	writers := 0
	err := mpi.Run(g.NRanks(), func(c mpi.Comm) error {
		env := &Env{
			Comm: c, Domain: g.Domain(c.Rank()), Position: g.Position(c.Rank()),
			Tracker: tr, Units: testUnits, Dir: dir,
		}
		buf := hbuf.New[float64](25, 6)
		for i := 0; i < buf.Rows(); i++ {
			for j := 0; j < buf.Cols(); j++ {
				x := env.Domain.LocalOffset[axis] + i
				buf.Set(i, j, float64(x*10 + j))
			}
		}

		wenv, sum, err := Reduce(env, buf, axis)
		if err != nil { return err }
		if wenv == nil { return nil }

		mu.Lock()
		writers++
		mu.Unlock()
		if err := Dump(wenv, sum, req); err != nil { return err }
		return wenv.Comm.Free()
	})
	if err != nil { t.Fatal(err.Error()) }
	if writers != 4 {
		t.Errorf("Expected 4 writing ranks, got %d.", writers)
	}

	target, _ := format.Descriptor(req.Axes)
	f, err := slab.ReadFile(filepath.Join(dir, target.FileName(req.Step)))
	if err != nil { t.Fatal(err.Error()) }
	ds, err := f.Dataset(target.Dataset)
	if err != nil { t.Fatal(err.Error()) }

	x, err := slab.Values[float64](ds)
	if err != nil { t.Fatal(err.Error()) }
	for i := 0; i < 100; i++ {
		for j := 0; j < 6; j++ {
			// Four ranks share every spatial bin.
			if exp := float64(4*(i*10 + j)); x[i*6 + j] != exp {
				t.Errorf("Expected bin (%d, %d) = %g, got %g.",
					i, j, exp, x[i*6 + j])
			}
		}
	}
	return ds
}

func TestScenario(t *testing.T) {
	dir := t.TempDir()

	tests := []struct{
		axis, offset int
		winOffset, winSize int32
	} {
		{1, 50, 0, 75},
		{0, 0, 0, 100},
	}

	for i := range tests {
		ds := runScenario(t, dir, tests[i].axis)
		if ds.Domain.Offset[0] != tests[i].offset {
			t.Errorf("%d) Expected a domain offset of %d, got %d.",
				i, tests[i].offset, ds.Domain.Offset[0])
		}
		for rank, box := range ds.Placements {
			if box.Offset[0] != 25*rank || box.Size[0] != 25 {
				t.Errorf("%d) Expected rank %d to write [%d, %d), got %v.",
					i, rank, 25*rank, 25*rank + 25, box)
			}
		}

		off, _ := ds.Attr("movingWindowOffset")
		size, _ := ds.Attr("movingWindowSize")
		if off.Value() != tests[i].winOffset ||
			size.Value() != tests[i].winSize {
			t.Errorf("%d) Expected window (%d, %d), got (%v, %v).", i,
				tests[i].winOffset, tests[i].winSize,
				off.Value(), size.Value())
		}
	}
}

func TestStateString(t *testing.T) {
	states := []State{
		Unopened, Opened, DomainWritten, AttributesWritten, Finalized, Closed,
	}
	names := []string{
		"Unopened", "Opened", "DomainWritten", "AttributesWritten",
		"Finalized", "Closed",
	}
	for i := range states {
		if states[i].String() != names[i] {
			t.Errorf("%d) Expected %s, got %s.", i, names[i], states[i])
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	d := &geom.Domain{
		Dims: 2, LocalSize: [3]int{ 6, 3, 1 }, GlobalSize: [3]int{ 6, 3, 1 },
	}
	env := &Env{
		Comm: mpi.NewWorld(1).Comm(0), Domain: d,
		Tracker: &window.Static{ GlobalSize: d.GlobalSize }, Units: testUnits, Dir: dir,
	}
	req := &Request{
		Axes: format.Selector{ Spatial: 0, Momentum: 1 }, PRange: [2]float32{ -1, 1 },
		PUnit: 1, Unit: 1, Step: 7,
	}

	buf := hbuf.New[uint64](6, 4)
	for i := range buf.Data() { buf.Data()[i] = uint64(i*i) }
	if err := Dump(env, buf, req); err != nil { t.Fatal(err.Error()) }

	fname := filepath.Join(dir, "phaseSpace", "PhaseSpace_xpy_7.slab")
	got, ds, err := Load(fname, "xpy")
	if err != nil { t.Fatal(err.Error()) }
	if ds.Type != slab.Uint64Flag {
		t.Errorf("Expected the dataset to be u64, got %v.", ds.Type)
	}
	if got.Rows() != 6 || got.Cols() != 4 {
		t.Fatalf("Expected shape (6, 4), got (%d, %d).", got.Rows(), got.Cols())
	}
	for i := range got.Data() {
		if got.Data()[i] != float64(i*i) {
			t.Errorf("%d) Expected %d, got %g.", i, i*i, got.Data()[i])
		}
	}

	if _, _, err := Load(fname, "ypy"); err == nil {
		t.Errorf("Expected an error when loading a missing dataset.")
	}
}

func TestReduceReleasesComms(t *testing.T) {
	dir := t.TempDir()
	g := &geom.Grid{ Dims: 2, Ranks: [3]int{ 2, 2, 1 }, GlobalSize: [3]int{ 8, 6, 1 } }
	tr := &window.Static{ GlobalSize: g.GlobalSize }
	w := mpi.NewWorld(g.NRanks())
	steps := 50

	var wg sync.WaitGroup
	errs := make([]error, g.NRanks())
	for rank := 0; rank < g.NRanks(); rank++ {
		wg.Add(1)
		go func(c mpi.Comm) {
			defer wg.Done()
			env := &Env{
				Comm: c, Domain: g.Domain(c.Rank()),
				Position: g.Position(c.Rank()), Tracker: tr,
				Units: testUnits, Dir: dir,
			}
			for step := 0; step < steps; step++ {
				axis := step % 2
				buf := hbuf.New[int32](env.Domain.LocalSize[axis], 3)
				req := &Request{
					Axes: format.Selector{ Spatial: axis, Momentum: 1 },
					PRange: [2]float32{ -1, 1 }, PUnit: 1, Unit: 1, Step: step,
				}

				wenv, sum, err := Reduce(env, buf, axis)
				if err != nil { errs[c.Rank()] = err; return }
				if wenv == nil { continue }
				if err := Dump(wenv, sum, req); err != nil {
					errs[c.Rank()] = err; return
				}
				if err := wenv.Comm.Free(); err != nil {
					errs[c.Rank()] = err; return
				}
			}
		}(w.Comm(rank))
	}
	wg.Wait()

	for rank := range errs {
		if errs[rank] != nil {
			t.Fatalf("Rank %d: %s", rank, errs[rank].Error())
		}
	}
	if live := w.Live(); live != 1 {
		t.Errorf("Expected only the world communicator after %d dumps, " +
			"got %d live communicators.", steps, live)
	}
}
