/*package particles generates synthetic macroparticles and bins them into
phase space histograms. It stands in for a real particle-in-cell code, so
phasedump can be run and checked without one.

Positions are measured in cells and momenta in arbitrary units.
*/
package particles

import (
	"fmt"
	"math"

	"github.com/phil-mansfield/phasedump/lib/format"
	"github.com/phil-mansfield/phasedump/lib/geom"
	"github.com/phil-mansfield/phasedump/lib/hbuf"
	"github.com/phil-mansfield/phasedump/lib/slab"
)

// Particle is a single macroparticle.
type Particle struct {
	X, P [3]float32
	// Weight is the number of real particles represented by the
	// macroparticle.
	Weight float32
}

// Distribution describes the momentum distribution of generated particles.
type Distribution struct {
	// Drift is the mean momentum.
	Drift [3]float32
	// Spread is the standard deviation of each momentum component.
	Spread float32
	// PerCell is the number of particles placed in each cell.
	PerCell int
}

// Generate creates the particles inside a rank's local domain.
func Generate(gen *RNG, d *geom.Domain, dist *Distribution) []Particle {
	cells := 1
	for i := 0; i < d.Dims; i++ { cells *= d.LocalSize[i] }

	ps := make([]Particle, cells*dist.PerCell)
	for n := range ps {
		p := &ps[n]
		for i := 0; i < d.Dims; i++ {
			p.X[i] = float32(d.LocalOffset[i]) +
				float32(gen.Uniform())*float32(d.LocalSize[i])
			// Rounding can push a particle onto the upper boundary.
			if int(p.X[i]) >= d.LocalOffset[i] + d.LocalSize[i] {
				p.X[i] = float32(d.LocalOffset[i] + d.LocalSize[i] - 1)
			}
		}
		for i := 0; i < 3; i++ {
			p.P[i] = dist.Drift[i] + dist.Spread*float32(gen.Normal())
		}
		p.Weight = 1
	}
	return ps
}

// Binning describes the shape of a phase space histogram.
type Binning struct {
	Axes format.Selector
	// Offset and Rows give the range of cells along the spatial axis which
	// are covered by the histogram.
	Offset, Rows int
	// Bins is the number of momentum bins.
	Bins int
	// PRange is the range of momenta covered by the bins.
	PRange [2]float32
}

// Check returns an error if the binning can't be used.
func (b *Binning) Check() error {
	if err := b.Axes.Check(); err != nil { return err }
	if b.Rows < 0 || b.Bins <= 0 {
		return fmt.Errorf("Histograms must have at least one momentum bin " +
			"and a non-negative number of rows, but was given %d bins and " +
			"%d rows.", b.Bins, b.Rows)
	} else if !Finite(float64(b.PRange[0])) ||
		!Finite(float64(b.PRange[1])) {
		return fmt.Errorf("The momentum range [%g, %g] isn't finite.",
			b.PRange[0], b.PRange[1])
	} else if !(b.PRange[0] < b.PRange[1]) {
		return fmt.Errorf("The momentum range [%g, %g] is empty.",
			b.PRange[0], b.PRange[1])
	}
	return nil
}

// Finite returns true if x is neither NaN nor infinite.
func Finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// Histogram bins the weights of particles by position and momentum. Particles
// outside the histogram's range are ignored.
func Histogram[T slab.Number](ps []Particle, b *Binning) *hbuf.Buffer[T] {
	if err := b.Check(); err != nil {
		panic(fmt.Sprintf("Internal error: %s", err.Error()))
	}

	out := hbuf.New[T](b.Rows, b.Bins)
	width := float64(b.PRange[1] - b.PRange[0]) / float64(b.Bins)

	for n := range ps {
		p := &ps[n]
		x := float64(p.X[b.Axes.Spatial])
		dp := float64(p.P[b.Axes.Momentum] - b.PRange[0])
		if !Finite(x) || !Finite(dp) { continue }

		row := int(math.Floor(x)) - b.Offset
		if row < 0 || row >= b.Rows { continue }
		if dp < 0 { continue }
		col := int(dp / width)
		if col >= b.Bins { continue }

		out.Add(row, col, T(p.Weight))
	}
	return out
}

// Weight returns the total weight of a set of particles.
func Weight(ps []Particle) float64 {
	sum := 0.0
	for i := range ps { sum += float64(ps[i].Weight) }
	return sum
}
