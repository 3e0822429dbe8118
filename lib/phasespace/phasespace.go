/*package phasespace writes phase space histograms to disk. A phase space
histogram bins particles by one spatial coordinate and one momentum
component. Each rank holds the bins for its own piece of the spatial axis, and
Dump collectively stitches those pieces into a single dataset.

Dump must be called by every rank of the communicator in Env, in the same
order, with the same Request.
*/
package phasespace

import (
	"fmt"
	"log"
	"path/filepath"

	g_error "github.com/phil-mansfield/phasedump/lib/error"
	"github.com/phil-mansfield/phasedump/lib/format"
	"github.com/phil-mansfield/phasedump/lib/geom"
	"github.com/phil-mansfield/phasedump/lib/hbuf"
	"github.com/phil-mansfield/phasedump/lib/logging"
	"github.com/phil-mansfield/phasedump/lib/mpi"
	"github.com/phil-mansfield/phasedump/lib/slab"
	"github.com/phil-mansfield/phasedump/lib/window"
)

// Units describes the simulation grid in physical units.
type Units struct {
	// CellSize is the width of a cell along each axis, in simulation units.
	CellSize [3]float32
	// DeltaT is the length of a step, in simulation units.
	DeltaT float32
	// UnitLength and UnitTime convert lengths and times to SI.
	UnitLength, UnitTime float64
}

// CellVolume returns the volume (or area, in 2D) of a cell.
func (u *Units) CellVolume(dims int) float32 {
	vol := float32(1)
	for i := 0; i < dims; i++ { vol *= u.CellSize[i] }
	return vol
}

// Env is everything a rank knows about the simulation it is part of.
type Env struct {
	// Comm contains every rank which writes the plane.
	Comm mpi.Comm
	Domain *geom.Domain
	// Position is the rank's position in the rank grid.
	Position [3]int
	Tracker window.Tracker
	Units Units
	// Dir is the directory which output paths are relative to.
	Dir string
}

// Request describes a single dump.
type Request struct {
	Axes format.Selector
	// PRange is the momentum range covered by the histogram.
	PRange [2]float32
	// PUnit converts PRange to SI.
	PUnit float64
	// Unit converts the histogram's values to SI.
	Unit float64
	Step int
}

// State is a step of the collective write protocol.
type State int
const (
	Unopened State = iota
	Opened
	DomainWritten
	AttributesWritten
	Finalized
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened: return "Unopened"
	case Opened: return "Opened"
	case DomainWritten: return "DomainWritten"
	case AttributesWritten: return "AttributesWritten"
	case Finalized: return "Finalized"
	case Closed: return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CollectiveIOError is returned when the container fails during a dump. Stage
// is the state the protocol was trying to reach. Every rank sees the same
// Stage.
type CollectiveIOError struct {
	Stage State
	File string
	Err error
}

func (e *CollectiveIOError) Error() string {
	return fmt.Sprintf("phase space dump to %s failed while moving to %v: %s",
		e.File, e.Stage, e.Err.Error())
}

func (e *CollectiveIOError) Unwrap() error { return e.Err }

// AttributeSet is the ordered list of attributes written with every dataset.
type AttributeSet []slab.Attribute

// Attributes returns the attributes of a dump along a given spatial axis.
func Attributes(
	req *Request, units *Units, dims int, st window.State,
) AttributeSet {
	axis := req.Axes.Spatial
	return AttributeSet{
		slab.NewAttribute("sim_unit", req.Unit),
		slab.NewAttribute("p_unit", req.PUnit),
		slab.NewAttribute("p_min", req.PRange[0]),
		slab.NewAttribute("p_max", req.PRange[1]),
		slab.NewAttribute("movingWindowOffset", int32(st.WindowOffset)),
		slab.NewAttribute("movingWindowSize", int32(st.WindowSize)),
		slab.NewAttribute("dr", units.CellSize[axis]),
		slab.NewAttribute("dV", units.CellVolume(dims)),
		slab.NewAttribute("dr_unit", units.UnitLength),
		slab.NewAttribute("dt", units.DeltaT),
		slab.NewAttribute("dt_unit", units.UnitTime),
	}
}

// Layout is everything about a dump which can be worked out without talking
// to other ranks.
type Layout struct {
	Geometry geom.Geometry
	Window window.State
	Target format.Target
	// Path is the file which will be written.
	Path string
}

// Plan validates a request and works out its Layout. It returns an error
// wrapping format.ErrAxisRange if the request's axes are invalid and panics
// with a *g_error.ContractViolation if buf doesn't match the local domain.
func Plan(env *Env, rows, cols int, req *Request) (*Layout, error) {
	if err := req.Axes.Check(); err != nil { return nil, err }
	if err := env.Domain.ValidAxis(req.Axes.Spatial); err != nil {
		return nil, fmt.Errorf("%w: %s", format.ErrAxisRange, err.Error())
	}

	geo, err := env.Domain.Resolve(req.Axes.Spatial, cols)
	if err != nil { return nil, err }
	if rows != geo.LocalSize {
		g_error.Contract("histogram has %d spatial bins, but the local " +
			"domain is %d cells wide along %c", rows, geo.LocalSize,
			format.Coords[req.Axes.Spatial])
	}

	target, err := format.Descriptor(req.Axes)
	if err != nil { return nil, err }

	return &Layout{
		Geometry: geo,
		Window: window.Adjust(env.Tracker, req.Step, req.Axes.Spatial,
			geo.LocalSize, geo.GlobalSize),
		Target: target,
		Path: filepath.Join(env.Dir, target.FileName(req.Step)),
	}, nil
}

// Dump collectively writes a phase space histogram. buf has one row per
// local cell along req.Axes.Spatial and one column per momentum bin. Dump
// returns only after the file has been closed on every path.
func Dump[T slab.Number](env *Env, buf *hbuf.Buffer[T], req *Request) error {
	lay, err := Plan(env, buf.Rows(), buf.Cols(), req)
	if err != nil { return err }

	if logging.Mode == logging.Debug {
		log.Printf("rank %d: dumping %s to %s, geometry %+v, window %+v",
			env.Comm.Rank(), lay.Target.Dataset, lay.Path,
			lay.Geometry, lay.Window)
	}

	p := &protocol{ env: env, lay: lay, req: req }
	defer p.close()

	if err := p.open(); err != nil { return err }
	if err := p.writeDomain(slab.TypeOf[T](), buf.Bytes()); err != nil {
		return err
	}
	if err := p.writeAttributes(); err != nil { return err }
	if err := p.finalize(); err != nil { return err }
	return p.close()
}

// protocol drives a slab.ParallelWriter through the states of a dump.
type protocol struct {
	env *Env
	lay *Layout
	req *Request

	state State
	wr *slab.ParallelWriter
	closeErr error
}

// advance moves the protocol to the next state if f succeeds.
func (p *protocol) advance(to State, f func() error) error {
	if to != p.state + 1 {
		panic(fmt.Sprintf("Internal error: phase space dump tried to move " +
			"from %v to %v.", p.state, to))
	}
	if err := f(); err != nil {
		return &CollectiveIOError{ to, p.lay.Path, err }
	}
	p.state = to
	return nil
}

func (p *protocol) open() error {
	return p.advance(Opened, func() error {
		attr := slab.FileAttr{
			MPISize: slab.Dims{ p.env.Comm.Size(), 1, 1 },
			MPIPosition: slab.Dims{ p.env.Position[p.req.Axes.Spatial], 0, 0 },
		}
		var err error
		p.wr, err = slab.Open(p.env.Comm, p.lay.Path, attr)
		return err
	})
}

func (p *protocol) writeDomain(flag slab.TypeFlag, data []byte) error {
	return p.advance(DomainWritten, func() error {
		geo := &p.lay.Geometry
		info := slab.DatasetInfo{
			Name: p.lay.Target.Dataset,
			Step: p.req.Step,
			Type: flag,
			Class: slab.GridType,
			NDims: 2,
			Global: slab.Dims{ geo.GlobalSize, geo.MomentumSize, 1 },
			Domain: slab.Domain{
				Offset: slab.Dims{ p.lay.Window.GlobalOffset, 0, 0 },
				Size: slab.Dims{ geo.GlobalSize, geo.MomentumSize, 1 },
			},
		}
		box := slab.Box{
			Offset: slab.Dims{ geo.LocalOffset, 0, 0 },
			Size: slab.Dims{ geo.LocalSize, geo.MomentumSize, 1 },
		}
		return p.wr.WriteDomain(info, box, data)
	})
}

func (p *protocol) writeAttributes() error {
	return p.advance(AttributesWritten, func() error {
		attrs := Attributes(p.req, &p.env.Units, p.env.Domain.Dims,
			p.lay.Window)
		for _, a := range attrs {
			err := p.wr.WriteAttribute(p.lay.Target.Dataset, a)
			if err != nil { return fmt.Errorf("'%s': %w", a.Name, err) }
		}
		return nil
	})
}

func (p *protocol) finalize() error {
	return p.advance(Finalized, p.wr.Finalize)
}

// close releases the writer. It can be called from any state and only does
// anything the first time.
func (p *protocol) close() error {
	if p.wr == nil || p.state == Closed { return p.closeErr }
	err := p.wr.Close()
	if err != nil && p.state == Finalized {
		p.closeErr = &CollectiveIOError{ Closed, p.lay.Path, err }
	}
	p.state = Closed
	return p.closeErr
}
