package lib

/* check.go contains the core functions of phasedump's "check" mode. */

import (
	"fmt"
	"log"
	"os"
	"runtime"

	g_error "github.com/phil-mansfield/phasedump/lib/error"
	"github.com/phil-mansfield/phasedump/lib/format"
	"github.com/phil-mansfield/phasedump/lib/particles"
	"github.com/phil-mansfield/phasedump/lib/window"
)

// MaxLocalRanks is the largest number of ranks which can be run in LocalMode.
const MaxLocalRanks = 1<<12

// Check runs the phasedump "check" command on the provided Args. This
// function will either crash upon encountering errors or will print warnings,
// depending on what Strictness is set to in args. If Check completes, it
// returns true if all tests passed and false otherwise.
func Check(mode RunMode, args *Args) bool {
	errs := problems(mode, args)
	for _, err := range errs {
		if args.Strictness == CrashOnError {
			g_error.External("%s", err.Error())
		}
		log.Printf("Warning: %s", err.Error())
	}
	return len(errs) == 0
}

// problems returns everything wrong with args.
func problems(mode RunMode, args *Args) []error {
	errs := []error{ }
	add := func(msg string, a ...interface{}) {
		errs = append(errs, fmt.Errorf(msg, a...))
	}

	g := &args.Grid
	if err := g.Check(); err != nil {
		add("Domain: %s.", err.Error())
		return errs
	}
	if mode == LocalMode && g.NRanks() > MaxLocalRanks {
		add("Domain.Ranks asks for %d ranks, but at most %d can be run " +
			"in local mode.", g.NRanks(), MaxLocalRanks)
	}

	for _, sel := range args.Planes {
		if sel.Spatial >= g.Dims {
			add("The plane %s uses the %c-axis, but the simulation is " +
				"%d-dimensional.", sel, format.Coords[sel.Spatial], g.Dims)
		}
	}
	for _, step := range args.Steps {
		if step < 0 {
			add("PhaseSpace.Steps contains the negative step %d.", step)
			break
		}
	}
	if args.MomentumBins <= 0 {
		add("PhaseSpace.MomentumBins is %d, but must be positive.",
			args.MomentumBins)
	}
	if !particles.Finite(float64(args.PRange[0])) ||
		!particles.Finite(float64(args.PRange[1])) {
		add("PhaseSpace.PMin (%g) and PhaseSpace.PMax (%g) must be finite.",
			args.PRange[0], args.PRange[1])
	} else if !(args.PRange[0] < args.PRange[1]) {
		add("PhaseSpace.PMin (%g) must be smaller than PhaseSpace.PMax (%g).",
			args.PRange[0], args.PRange[1])
	}
	if info, err := os.Stat(args.Output); err == nil && !info.IsDir() {
		add("PhaseSpace.Output, %s, is not a directory.", args.Output)
	}

	if m, ok := args.Tracker.(*window.Moving); ok {
		ax := window.SlideAxis
		switch {
		case g.Dims <= ax:
			add("The moving window slides along y, but the simulation is " +
				"%d-dimensional.", g.Dims)
		case g.Ranks[ax] < 2:
			add("The moving window needs at least two ranks along y, but " +
				"Domain.Ranks only has %d.", g.Ranks[ax])
		case g.GlobalSize[ax] % g.Ranks[ax] != 0:
			add("The moving window needs every rank to have the same size " +
				"along y, but %d cells can't be evenly split between %d " +
				"ranks.", g.GlobalSize[ax], g.Ranks[ax])
		default:
			if err := m.Check(); err != nil {
				add("MovingWindow: %s.", err.Error())
			}
		}
	}

	if args.Distribution.PerCell <= 0 {
		add("Particles.PerCell is %d, but must be positive.",
			args.Distribution.PerCell)
	}
	spread := float64(args.Distribution.Spread)
	if !particles.Finite(spread) || spread < 0 {
		add("Particles.Spread is %g, but must be finite and non-negative.",
			spread)
	}
	for i, p := range args.Distribution.Drift {
		if !particles.Finite(float64(p)) {
			add("Element %d of Particles.Drift is %g, but must be finite.",
				i, p)
		}
	}
	for i := 0; i < g.Dims; i++ {
		x := float64(args.Units.CellSize[i])
		if !particles.Finite(x) || x <= 0 {
			add("Units.CellSize has a non-positive or non-finite element, %g.",
				args.Units.CellSize[i])
			break
		}
	}

	if args.Threads != -1 &&
		(args.Threads <= 0 || args.Threads > runtime.NumCPU()) {
		add("Run.Threads is %d, but must be -1 or between 1 and %d.",
			args.Threads, runtime.NumCPU())
	}

	return errs
}
