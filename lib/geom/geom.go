/*package geom resolves where a rank's piece of the simulation grid sits inside
the global grid. Everything is measured in cells.
*/
package geom

import (
	"fmt"
	"sort"
)

// Domain describes the piece of the global grid owned by a single rank. It is
// the explicit replacement for the simulation's global domain information.
type Domain struct {
	// Dims is the dimensionality of the simulation, 2 or 3.
	Dims int
	// LocalOffset and LocalSize give the position of the first local cell
	// and the number of local cells along each axis.
	LocalOffset, LocalSize [3]int
	// GlobalSize is the number of cells in the full domain along each axis.
	GlobalSize [3]int
}

// Geometry is the result of resolving a Domain along one spatial axis.
type Geometry struct {
	LocalOffset, LocalSize, GlobalSize int
	// MomentumSize is the number of momentum bins. It's taken from the
	// histogram buffer, not the domain.
	MomentumSize int
}

// ValidAxis returns an error if axis isn't one of the domain's spatial axes.
func (d *Domain) ValidAxis(axis int) error {
	if axis < 0 || axis >= d.Dims {
		return fmt.Errorf("spatial axis %d is outside a %d-dimensional " +
			"domain", axis, d.Dims)
	}
	return nil
}

// Resolve returns the geometry of the domain along a given spatial axis.
func (d *Domain) Resolve(axis, momentumSize int) (Geometry, error) {
	if err := d.ValidAxis(axis); err != nil { return Geometry{ }, err }
	return Geometry{
		LocalOffset: d.LocalOffset[axis],
		LocalSize: d.LocalSize[axis],
		GlobalSize: d.GlobalSize[axis],
		MomentumSize: momentumSize,
	}, nil
}

// Grid is a rectangular grid of ranks which splits up a global domain.
type Grid struct {
	Dims int
	// Ranks is the number of ranks along each axis. Unused axes must be 1.
	Ranks [3]int
	GlobalSize [3]int
}

// NRanks returns the total number of ranks in the grid.
func (g *Grid) NRanks() int { return g.Ranks[0]*g.Ranks[1]*g.Ranks[2] }

// Check returns an error if the grid can't be used to split up its domain.
func (g *Grid) Check() error {
	if g.Dims != 2 && g.Dims != 3 {
		return fmt.Errorf("the simulation must be 2- or 3-dimensional, not " +
			"%d-dimensional", g.Dims)
	}
	for i := 0; i < 3; i++ {
		if g.Ranks[i] <= 0 {
			return fmt.Errorf("axis %d has %d ranks", i, g.Ranks[i])
		} else if i >= g.Dims && g.Ranks[i] != 1 {
			return fmt.Errorf("unused axis %d has %d ranks instead of 1",
				i, g.Ranks[i])
		} else if i < g.Dims && g.GlobalSize[i] < g.Ranks[i] {
			return fmt.Errorf("axis %d has %d cells, which can't be split " +
				"between %d ranks", i, g.GlobalSize[i], g.Ranks[i])
		}
	}
	return nil
}

// Position returns the position of a rank in the grid. Ranks are ordered with
// x varying fastest.
func (g *Grid) Position(rank int) [3]int {
	if rank < 0 || rank >= g.NRanks() {
		panic(fmt.Sprintf("Internal error: rank %d is outside a grid of " +
			"%d ranks.", rank, g.NRanks()))
	}
	return [3]int{
		rank % g.Ranks[0],
		(rank / g.Ranks[0]) % g.Ranks[1],
		rank / (g.Ranks[0]*g.Ranks[1]),
	}
}

// Rank returns the rank at a given position. It is the inverse of Position.
func (g *Grid) Rank(pos [3]int) int {
	return pos[0] + g.Ranks[0]*(pos[1] + g.Ranks[1]*pos[2])
}

// Domain returns the Domain owned by a given rank.
func (g *Grid) Domain(rank int) *Domain {
	pos := g.Position(rank)
	d := &Domain{ Dims: g.Dims, GlobalSize: g.GlobalSize }
	for i := 0; i < 3; i++ {
		d.LocalOffset[i], d.LocalSize[i] = Split(g.GlobalSize[i], g.Ranks[i],
			pos[i])
	}
	return d
}

// Split splits n cells between parts ranks and returns the offset and size of
// the i-th piece. Sizes differ by at most one, and the leading pieces get the
// extra cells.
func Split(n, parts, i int) (offset, size int) {
	base, rem := n / parts, n % parts
	if i < rem {
		return i*(base + 1), base + 1
	}
	return rem*(base + 1) + (i - rem)*base, base
}

// Interval is the half-open range [Offset, Offset + Size).
type Interval struct {
	Offset, Size int
}

// CheckTiling returns nil if the intervals exactly cover [0, global) without
// gaps or overlaps, and an error describing the first problem otherwise.
// Zero-sized intervals are allowed anywhere in [0, global].
func CheckTiling(intervals []Interval, global int) error {
	iv := append([]Interval{ }, intervals...)
	sort.SliceStable(iv, func(i, j int) bool {
		if iv[i].Offset != iv[j].Offset {
			return iv[i].Offset < iv[j].Offset
		}
		return iv[i].Size < iv[j].Size
	})

	end := 0
	for _, in := range iv {
		switch {
		case in.Size < 0:
			return fmt.Errorf("interval at %d has negative size %d",
				in.Offset, in.Size)
		case in.Offset < 0 || in.Offset + in.Size > global:
			return fmt.Errorf("interval [%d, %d) is outside [0, %d)",
				in.Offset, in.Offset + in.Size, global)
		case in.Size == 0:
			continue
		case in.Offset > end:
			return fmt.Errorf("cells [%d, %d) aren't covered", end, in.Offset)
		case in.Offset < end:
			return fmt.Errorf("interval [%d, %d) overlaps cells before %d",
				in.Offset, in.Offset + in.Size, end)
		}
		end = in.Offset + in.Size
	}

	if end != global {
		return fmt.Errorf("cells [%d, %d) aren't covered", end, global)
	}
	return nil
}
