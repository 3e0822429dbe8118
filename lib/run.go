package lib

/* run.go contains the core functions of phasedump's "dump" and "confirm"
modes. */

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/phil-mansfield/phasedump/lib/format"
	"github.com/phil-mansfield/phasedump/lib/hbuf"
	"github.com/phil-mansfield/phasedump/lib/logging"
	"github.com/phil-mansfield/phasedump/lib/mpi"
	"github.com/phil-mansfield/phasedump/lib/particles"
	"github.com/phil-mansfield/phasedump/lib/phasespace"
	"github.com/phil-mansfield/phasedump/lib/slab"
	"github.com/phil-mansfield/phasedump/lib/window"
)

// ConfirmEpsilon is the relative tolerance used when comparing histograms in
// the "confirm" mode.
const ConfirmEpsilon = 1e-6

// Dump runs the "dump" mode: every rank generates its particles, bins them,
// and writes every plane at every step.
func Dump(mode RunMode, args *Args) error {
	switch mode {
	case LocalMode:
		return mpi.Run(args.Grid.NRanks(), func(c mpi.Comm) error {
			return dumpRank(c, args)
		})
	case MPIMode:
		c, finalize, err := mpiWorld()
		if err != nil { return err }
		defer finalize()

		if c.Size() != args.Grid.NRanks() {
			return fmt.Errorf("Domain.Ranks asks for %d ranks, but " +
				"phasedump was started with %d.", args.Grid.NRanks(), c.Size())
		}
		err = dumpRank(c, args)
		if err != nil { c.Abort(err) }
		return err
	}
	panic(fmt.Sprintf("Internal error: unknown RunMode %d.", mode))
}

// request returns the Request for dumping a plane at a given step.
func (args *Args) request(sel format.Selector, step int) *phasespace.Request {
	return &phasespace.Request{
		Axes: sel, PRange: args.PRange, PUnit: args.PUnit, Unit: args.Unit,
		Step: step,
	}
}

func dumpRank(c mpi.Comm, args *Args) error {
	env := &phasespace.Env{
		Comm: c,
		Domain: args.Grid.Domain(c.Rank()),
		Position: args.Grid.Position(c.Rank()),
		Tracker: args.Tracker,
		Units: args.Units,
		Dir: args.Output,
	}

	for _, step := range args.Steps {
		t0 := time.Now()
		gen := particles.NewRNG(particles.Seed(args.Seed, step, c.Rank()))
		ps := particles.Generate(gen, env.Domain, &args.Distribution)

		for _, sel := range args.Planes {
			if err := dumpPlane(env, ps, sel, step, args); err != nil {
				return err
			}
		}

		if logging.Mode >= logging.Performance && c.Rank() == 0 {
			log.Printf("Step %d: wrote %d planes in %.3g s. %s", step,
				len(args.Planes), time.Since(t0).Seconds(),
				logging.MemString())
		}
	}
	return nil
}

func dumpPlane(
	env *phasespace.Env, ps []particles.Particle,
	sel format.Selector, step int, args *Args,
) error {
	switch args.Type {
	case slab.Int32Flag: return dumpTyped[int32](env, ps, sel, step, args)
	case slab.Int64Flag: return dumpTyped[int64](env, ps, sel, step, args)
	case slab.Uint32Flag: return dumpTyped[uint32](env, ps, sel, step, args)
	case slab.Uint64Flag: return dumpTyped[uint64](env, ps, sel, step, args)
	case slab.Float32Flag: return dumpTyped[float32](env, ps, sel, step, args)
	case slab.Float64Flag: return dumpTyped[float64](env, ps, sel, step, args)
	}
	panic(fmt.Sprintf("Internal error: unknown type flag %v.", args.Type))
}

func dumpTyped[T slab.Number](
	env *phasespace.Env, ps []particles.Particle,
	sel format.Selector, step int, args *Args,
) error {
	axis := sel.Spatial
	b := &particles.Binning{
		Axes: sel,
		Offset: env.Domain.LocalOffset[axis],
		Rows: env.Domain.LocalSize[axis],
		Bins: args.MomentumBins,
		PRange: args.PRange,
	}
	h := particles.Histogram[T](ps, b)

	wenv, sum, err := phasespace.Reduce(env, h, axis)
	if err != nil { return err }
	if wenv == nil { return nil }

	err = phasespace.Dump(wenv, sum, args.request(sel, step))
	if ferr := wenv.Comm.Free(); err == nil { err = ferr }
	return err
}

// Confirm runs the "confirm" mode: every file written by Dump is read back and
// compared against a serial recomputation of the global histogram. A summary
// line is printed for every file.
func Confirm(args *Args) error {
	g := &args.Grid
	for _, step := range args.Steps {
		ps := make([][]particles.Particle, g.NRanks())
		weight := 0.0
		for rank := range ps {
			gen := particles.NewRNG(particles.Seed(args.Seed, step, rank))
			ps[rank] = particles.Generate(gen, g.Domain(rank),
				&args.Distribution)
			weight += particles.Weight(ps[rank])
		}

		for _, sel := range args.Planes {
			total, err := confirmPlane(args, ps, sel, step)
			if err != nil { return err }
			fmt.Printf("%4d %s: %.8g of %.8g particles binned. OK\n",
				step, sel, total, weight)
		}
	}
	return nil
}

func confirmPlane(
	args *Args, ps [][]particles.Particle, sel format.Selector, step int,
) (float64, error) {
	g := &args.Grid
	axis := sel.Spatial

	target, err := format.Descriptor(sel)
	if err != nil { return 0, err }
	fname := filepath.Join(args.Output, target.FileName(step))
	got, ds, err := phasespace.Load(fname, target.Dataset)
	if err != nil { return 0, err }

	b := &particles.Binning{
		Axes: sel, Rows: g.GlobalSize[axis], Bins: args.MomentumBins,
		PRange: args.PRange,
	}
	exp := hbuf.New[float64](b.Rows, b.Bins)
	for rank := range ps {
		h := particles.Histogram[float64](ps[rank], b)
		floats.Add(exp.Data(), h.Data())
	}

	if got.Rows() != exp.Rows() || got.Cols() != exp.Cols() {
		return 0, fmt.Errorf("%s has shape (%d, %d), expected (%d, %d).",
			fname, got.Rows(), got.Cols(), exp.Rows(), exp.Cols())
	}
	if !mat.EqualApprox(got.Dense(), exp.Dense(), ConfirmEpsilon) {
		return 0, fmt.Errorf("The histogram in %s doesn't match the " +
			"recomputed histogram.", fname)
	}

	st := window.Adjust(args.Tracker, step, axis,
		g.Domain(0).LocalSize[axis], g.GlobalSize[axis])
	if err := confirmWindow(fname, ds, st); err != nil { return 0, err }

	return floats.Sum(got.Data()), nil
}

// confirmWindow checks that a dataset's domain offset and window attributes
// match the expected window state.
func confirmWindow(fname string, ds *slab.Dataset, st window.State) error {
	if ds.Domain.Offset[0] != st.GlobalOffset {
		return fmt.Errorf("%s has a domain offset of %d, expected %d.",
			fname, ds.Domain.Offset[0], st.GlobalOffset)
	}

	attrs := []struct{
		name string
		exp int
	} {
		{"movingWindowOffset", st.WindowOffset},
		{"movingWindowSize", st.WindowSize},
	}
	for _, a := range attrs {
		attr, err := ds.Attr(a.name)
		if err != nil { return err }
		if x := attr.Float64(); x != float64(a.exp) {
			return fmt.Errorf("%s has %s = %v, expected %d.",
				fname, a.name, attr.Value(), a.exp)
		}
	}
	return nil
}
