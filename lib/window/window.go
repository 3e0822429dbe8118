/*package window tracks the moving window: the part of the simulated domain
which slides along the y-axis to follow a propagating phenomenon. Each time
the window has moved by one local domain's worth of cells, the simulation
drops the trailing row of cells and adds a new one, which counts as a
"slide".
*/
package window

import (
	"fmt"
	"math"
)

// SlideAxis is the only axis the window can move along.
const SlideAxis = 1

// Window is the part of the global domain which is currently visible, in
// cells.
type Window struct {
	Offset, Size [3]int
}

// Tracker reports the state of the moving window at a given step. It is owned
// by the simulation and must be safe to query from every rank.
type Tracker interface {
	// SlideCount returns the number of slides which have happened by step.
	SlideCount(step int) int
	// Window returns the visible window at step.
	Window(step int) Window
}

// Static is a Tracker for simulations without a moving window.
type Static struct {
	GlobalSize [3]int
}

func (s *Static) SlideCount(step int) int { return 0 }

func (s *Static) Window(step int) Window {
	return Window{ Size: s.GlobalSize }
}

// Moving is a Tracker for a window moving at a constant speed. One row of
// ranks along SlideAxis is hidden from the window so new cells can be
// initialized there before they become visible. A Moving must pass Check
// before it is queried.
type Moving struct {
	GlobalSize [3]int
	// LocalSize is the size of a single rank's domain. Every rank must have
	// the same size along SlideAxis.
	LocalSize [3]int
	// CellsPerStep is the speed of the window.
	CellsPerStep float64
	// StartStep is the first step where the window moves.
	StartStep int
}

// Check returns an error if the window can't be tracked.
func (m *Moving) Check() error {
	ax := SlideAxis
	if math.IsNaN(m.CellsPerStep) || math.IsInf(m.CellsPerStep, 0) ||
		m.CellsPerStep < 0 {
		return fmt.Errorf("the window speed must be a finite, non-negative " +
			"number of cells per step, not %g", m.CellsPerStep)
	} else if m.LocalSize[ax] <= 0 || m.GlobalSize[ax] < 2*m.LocalSize[ax] {
		return fmt.Errorf("the window needs at least two domains of " +
			"positive size along y, but domains are %d cells wide in a " +
			"%d cell global domain", m.LocalSize[ax], m.GlobalSize[ax])
	}
	return nil
}

// moved returns the number of cells the window has moved by step.
func (m *Moving) moved(step int) int {
	if step <= m.StartStep || !(m.CellsPerStep > 0) { return 0 }
	return int(float64(step - m.StartStep)*m.CellsPerStep)
}

func (m *Moving) SlideCount(step int) int {
	return m.moved(step) / m.LocalSize[SlideAxis]
}

func (m *Moving) Window(step int) Window {
	w := Window{ Size: m.GlobalSize }
	w.Size[SlideAxis] -= m.LocalSize[SlideAxis]
	w.Offset[SlideAxis] = m.moved(step) % m.LocalSize[SlideAxis]
	return w
}

// State is the moving window information attached to a single phase space
// dump.
type State struct {
	SlideCount int
	// GlobalOffset is the offset of the simulated domain in the frame where
	// the window started: SlideCount local domains along SlideAxis, and zero
	// along every other axis.
	GlobalOffset int
	// WindowOffset and WindowSize give the visible window along the axis.
	WindowOffset, WindowSize int
}

// Adjust computes the window State for a dump along a given axis. localSize
// and globalSize are the sizes of the rank's domain and of the global domain
// along that axis.
func Adjust(tr Tracker, step, axis, localSize, globalSize int) State {
	st := State{
		SlideCount: tr.SlideCount(step),
		WindowSize: globalSize,
	}
	if axis != SlideAxis { return st }

	st.GlobalOffset = st.SlideCount * localSize
	w := tr.Window(step)
	st.WindowOffset, st.WindowSize = w.Offset[axis], w.Size[axis]
	return st
}
