package phasespace

import (
	"fmt"

	"github.com/phil-mansfield/phasedump/lib/format"
	"github.com/phil-mansfield/phasedump/lib/hbuf"
	"github.com/phil-mansfield/phasedump/lib/mpi"
	"github.com/phil-mansfield/phasedump/lib/slab"
)

// Reduce sums the histograms of all ranks which share a position along a
// spatial axis, so that the plane is written by exactly one rank per position.
// It is collective over env.Comm. Writing ranks get back the Env and
// histogram to pass to Dump. Every other rank gets a nil Env. The returned
// Env holds a new communicator, which the caller must Free once it's done
// writing.
func Reduce[T slab.Number](
	env *Env, buf *hbuf.Buffer[T], axis int,
) (*Env, *hbuf.Buffer[T], error) {
	if err := env.Domain.ValidAxis(axis); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", format.ErrAxisRange, err.Error())
	}
	pos := env.Position[axis]

	plane, err := env.Comm.Split(pos, env.Comm.Rank())
	if err != nil { return nil, nil, err }
	sum, err := hbuf.ReduceSum(plane, buf, 0)
	if err != nil {
		plane.Free()
		return nil, nil, err
	}

	color := mpi.Undefined
	if plane.Rank() == 0 { color = 0 }
	if err := plane.Free(); err != nil { return nil, nil, err }

	writers, err := env.Comm.Split(color, pos)
	if err != nil { return nil, nil, err }
	if writers == nil { return nil, nil, nil }

	out := *env
	out.Comm = writers
	return &out, sum, nil
}
