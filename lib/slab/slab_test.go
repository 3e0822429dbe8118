package slab

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/phil-mansfield/phasedump/lib/eq"
	"github.com/phil-mansfield/phasedump/lib/mpi"
)

type myFloat float32
type myUint uint64

func TestTypeOf(t *testing.T) {
	flags := []TypeFlag{
		TypeOf[int32](), TypeOf[int64](), TypeOf[uint32](),
		TypeOf[uint64](), TypeOf[float32](), TypeOf[float64](),
		TypeOf[myFloat](), TypeOf[myUint](),
	}
	exp := []TypeFlag{
		Int32Flag, Int64Flag, Uint32Flag, Uint64Flag, Float32Flag, Float64Flag,
		Float32Flag, Uint64Flag,
	}
	for i := range flags {
		if flags[i] != exp[i] {
			t.Errorf("%d) Expected %v, got %v.", i, exp[i], flags[i])
		}
	}
}

func TestAttribute(t *testing.T) {
	tests := []struct{
		a Attribute
		val interface{}
		f64 float64
	} {
		{NewAttribute("a", int32(-7)), int32(-7), -7},
		{NewAttribute("b", int64(-1<<40)), int64(-1<<40), -1<<40},
		{NewAttribute("c", uint32(12)), uint32(12), 12},
		{NewAttribute("d", uint64(1<<63)), uint64(1<<63), 1<<63},
		{NewAttribute("e", float32(0.25)), float32(0.25), 0.25},
		{NewAttribute("f", 2.5e-30), 2.5e-30, 2.5e-30},
	}

	for i := range tests {
		if v := tests[i].a.Value(); v != tests[i].val {
			t.Errorf("%d) Expected value %v, got %v.", i, tests[i].val, v)
		}
		if f := tests[i].a.Float64(); f != tests[i].f64 {
			t.Errorf("%d) Expected Float64() = %g, got %g.", i, tests[i].f64, f)
		}
	}
}

func TestCheckBoxes(t *testing.T) {
	global := Dims{ 4, 6, 1 }
	tests := []struct{
		boxes []Box
		valid bool
	} {
		{[]Box{ {Dims{ 0, 0, 0 }, Dims{ 4, 6, 1 }} }, true},
		{[]Box{ {Dims{ 0, 0, 0 }, Dims{ 2, 6, 1 }},
			{Dims{ 2, 0, 0 }, Dims{ 2, 6, 1 }} }, true},
		{[]Box{ {Dims{ 0, 0, 0 }, Dims{ 4, 3, 1 }},
			{Dims{ 0, 0, 0 }, Dims{ 0, 0, 0 }},
			{Dims{ 0, 3, 0 }, Dims{ 4, 3, 1 }} }, true},
		{[]Box{ {Dims{ 0, 0, 0 }, Dims{ 2, 6, 1 }} }, false},
		{[]Box{ {Dims{ 0, 0, 0 }, Dims{ 3, 6, 1 }},
			{Dims{ 2, 0, 0 }, Dims{ 1, 6, 1 }} }, false},
		{[]Box{ {Dims{ 0, 0, 0 }, Dims{ 2, 6, 1 }},
			{Dims{ 1, 0, 0 }, Dims{ 3, 4, 1 }} }, false},
		{[]Box{ {Dims{ 0, 0, 0 }, Dims{ 4, 7, 1 }} }, false},
		{[]Box{ {Dims{ -1, 0, 0 }, Dims{ 5, 6, 1 }} }, false},
	}

	for i := range tests {
		err := checkBoxes(tests[i].boxes, global)
		if tests[i].valid && err != nil {
			t.Errorf("%d) Expected no error, got '%s'.", i, err.Error())
		} else if !tests[i].valid && err == nil {
			t.Errorf("%d) Expected an error, got none.", i)
		}
	}
}

func TestFileEncoding(t *testing.T) {
	data := []float64{ 1, 2, 3, 4, 5, 6 }
	buf := make([]byte, 0, 8*len(data))
	for i := range data {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(data[i]))
	}

	f := &File{
		MPISize: Dims{ 2, 1, 1 },
		Positions: []Dims{ {0, 0, 0}, {1, 0, 0} },
		Datasets: []*Dataset{{
			DatasetInfo: DatasetInfo{
				Name: "xpy", Step: 17, Type: Float64Flag, Class: GridType,
				NDims: 2, Global: Dims{ 3, 2, 1 },
				Domain: Domain{ Dims{ 10, 0, 0 }, Dims{ 3, 2, 1 } },
			},
			Placements: []Box{
				{Dims{ 0, 0, 0 }, Dims{ 1, 2, 1 }},
				{Dims{ 1, 0, 0 }, Dims{ 2, 2, 1 }},
			},
			Attrs: []Attribute{
				NewAttribute("p_min", float32(-1)),
				NewAttribute("movingWindowSize", int32(75)),
			},
			order: binary.LittleEndian,
			data: buf,
		}},
	}

	for _, order := range []binary.ByteOrder{
		binary.LittleEndian, binary.BigEndian,
	} {
		b, err := encodeFile(order, f)
		if err != nil { t.Fatal(err.Error()) }
		g, err := readFile("test", bytes.NewReader(b))
		if err != nil { t.Fatalf("%v) %s", order, err.Error()) }

		if g.MPISize != f.MPISize || len(g.Positions) != 2 ||
			g.Positions[1] != f.Positions[1] {
			t.Errorf("%v) Expected rank grid %v %v, got %v %v.", order,
				f.MPISize, f.Positions, g.MPISize, g.Positions)
		}

		ds, err := g.Dataset("xpy")
		if err != nil { t.Fatal(err.Error()) }
		if ds.DatasetInfo != f.Datasets[0].DatasetInfo {
			t.Errorf("%v) Expected %+v, got %+v.", order,
				f.Datasets[0].DatasetInfo, ds.DatasetInfo)
		}
		if ds.Placements[1] != f.Datasets[0].Placements[1] {
			t.Errorf("%v) Expected placement %v, got %v.", order,
				f.Datasets[0].Placements[1], ds.Placements[1])
		}

		a, err := ds.Attr("movingWindowSize")
		if err != nil { t.Fatal(err.Error()) }
		if a.Value() != int32(75) {
			t.Errorf("%v) Expected movingWindowSize = 75, got %v.",
				order, a.Value())
		}

		x, err := Values[float64](ds)
		if err != nil { t.Fatal(err.Error()) }
		if !eq.Float64sEps(x, data, 0) {
			t.Errorf("%v) Expected %v, got %v.", order, data, x)
		}

		if _, err := Values[float32](ds); err == nil {
			t.Errorf("%v) Expected an error when reading f64 data as f32.",
				order)
		}
	}
}

func TestReadBadFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "bad.slab")
	if err := os.WriteFile(fname, []byte("not a slab file"), 0644); err != nil {
		t.Fatal(err.Error())
	}
	if _, err := ReadFile(fname); err == nil {
		t.Errorf("Expected an error when reading a non-slab file.")
	}
}

// writeGrid writes a single int32 dataset split over a 2 x 2 rank grid.
func writeGrid(c mpi.Comm, fname string, global Dims, boxes []Box) error {
	pos := Dims{ c.Rank() % 2, c.Rank() / 2, 0 }
	wr, err := Open(c, fname, FileAttr{ Dims{ 2, 2, 1 }, pos })
	if err != nil { return err }
	defer wr.Close()

	box := boxes[c.Rank()]
	data := make([]int32, box.Size.Volume())
	for i0 := 0; i0 < box.Size[0]; i0++ {
		for i1 := 0; i1 < box.Size[1]; i1++ {
			x0, x1 := box.Offset[0] + i0, box.Offset[1] + i1
			data[i0*box.Size[1] + i1] = int32(100*x0 + x1)
		}
	}

	info := DatasetInfo{
		Name: "grid", Step: 3, Type: Int32Flag, Class: GridType,
		NDims: 2, Global: global, Domain: Domain{ Size: global },
	}
	b := make([]byte, 0, 4*len(data))
	for _, x := range data {
		b = binary.LittleEndian.AppendUint32(b, uint32(x))
	}
	if err := wr.WriteDomain(info, box, b); err != nil { return err }

	attr := NewAttribute("dt", float32(0.5))
	if err := wr.WriteAttribute("grid", attr); err != nil { return err }
	if err := wr.Finalize(); err != nil { return err }
	return wr.Close()
}

func TestParallelWriter(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "out", "grid.slab")
	global := Dims{ 5, 4, 1 }
	boxes := []Box{
		{Dims{ 0, 0, 0 }, Dims{ 3, 2, 1 }},
		{Dims{ 3, 0, 0 }, Dims{ 2, 2, 1 }},
		{Dims{ 0, 2, 0 }, Dims{ 3, 2, 1 }},
		{Dims{ 3, 2, 0 }, Dims{ 2, 2, 1 }},
	}

	err := mpi.Run(4, func(c mpi.Comm) error {
		return writeGrid(c, fname, global, boxes)
	})
	if err != nil { t.Fatal(err.Error()) }

	f, err := ReadFile(fname)
	if err != nil { t.Fatal(err.Error()) }
	ds, err := f.Dataset("grid")
	if err != nil { t.Fatal(err.Error()) }
	if ds.Global != global || ds.Step != 3 || ds.NDims != 2 {
		t.Errorf("Expected a %v dataset at step 3, got %+v.",
			global, ds.DatasetInfo)
	}
	for i := range boxes {
		if ds.Placements[i] != boxes[i] {
			t.Errorf("%d) Expected placement %v, got %v.",
				i, boxes[i], ds.Placements[i])
		}
	}

	x, err := Values[int32](ds)
	if err != nil { t.Fatal(err.Error()) }
	for x0 := 0; x0 < global[0]; x0++ {
		for x1 := 0; x1 < global[1]; x1++ {
			if got := x[x0*global[1] + x1]; got != int32(100*x0 + x1) {
				t.Errorf("Expected element (%d, %d) = %d, got %d.",
					x0, x1, 100*x0 + x1, got)
			}
		}
	}

	if a, err := ds.Attr("dt"); err != nil || a.Value() != float32(0.5) {
		t.Errorf("Expected dt = 0.5, got %v (err = %v).", a, err)
	}
}

func TestTilingFailure(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "grid.slab")
	global := Dims{ 5, 4, 1 }
	boxes := []Box{
		{Dims{ 0, 0, 0 }, Dims{ 3, 2, 1 }},
		{Dims{ 2, 0, 0 }, Dims{ 3, 2, 1 }},
		{Dims{ 0, 2, 0 }, Dims{ 3, 2, 1 }},
		{Dims{ 3, 2, 0 }, Dims{ 2, 2, 1 }},
	}

	errs := make([]error, 4)
	mu := &sync.Mutex{ }
	mpi.Run(4, func(c mpi.Comm) error {
		err := writeGrid(c, fname, global, boxes)
		mu.Lock()
		errs[c.Rank()] = err
		mu.Unlock()
		return nil
	})

	for rank := range errs {
		if errs[rank] == nil {
			t.Errorf("Expected overlapping hyperslabs to fail on rank %d.",
				rank)
		}
	}
	if _, err := os.Stat(fname); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected %s to be removed after a failed write.", fname)
	}
}

func TestAttributeMismatch(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "attr.slab")
	errs := make([]error, 3)
	mu := &sync.Mutex{ }

	mpi.Run(3, func(c mpi.Comm) error {
		err := func() error {
			wr, err := Open(c, fname, FileAttr{
				Dims{ 3, 1, 1 }, Dims{ c.Rank(), 0, 0 },
			})
			if err != nil { return err }
			defer wr.Close()

			info := DatasetInfo{
				Name: "a", Type: Uint32Flag, NDims: 1, Global: Dims{ 3, 1, 1 },
			}
			box := Box{ Dims{ c.Rank(), 0, 0 }, Dims{ 1, 1, 1 } }
			err = wr.WriteDomain(info, box, []byte{ 1, 0, 0, 0 })
			if err != nil { return err }

			step := int64(10)
			if c.Rank() == 2 { step = 11 }
			return wr.WriteAttribute("a", NewAttribute("step", step))
		}()
		mu.Lock()
		errs[c.Rank()] = err
		mu.Unlock()
		return nil
	})

	for rank := range errs {
		if errs[rank] == nil {
			t.Errorf("Expected mismatched attributes to fail on rank %d.",
				rank)
		}
	}
}

func TestOpenRankGrid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct{
		size Dims
		pos func(rank int) Dims
	} {
		{Dims{ 2, 1, 1 }, func(rank int) Dims { return Dims{ rank, 0, 0 } }},
		{Dims{ 3, 1, 1 }, func(rank int) Dims { return Dims{ 0, 0, 0 } }},
		{Dims{ 3, 1, 1 }, func(rank int) Dims { return Dims{ rank + 1, 0, 0 } }},
	}

	for i := range tests {
		fname := filepath.Join(dir, "grid.slab")
		err := mpi.Run(3, func(c mpi.Comm) error {
			wr, err := Open(c, fname, FileAttr{
				tests[i].size, tests[i].pos(c.Rank()),
			})
			if err != nil { return err }
			return wr.Close()
		})
		if err == nil {
			t.Errorf("%d) Expected Open to reject the rank grid.", i)
		}
	}
}
