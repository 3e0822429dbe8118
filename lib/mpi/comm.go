/*package mpi contains the communicator abstraction used by phasedump's
collective writes. Two implementations are provided: World, which runs every
rank as a goroutine inside a single process, and (when built with the "mpi"
tag) a thin cgo wrapper around a system MPI library.

All calls on a Comm are collective unless noted otherwise: every rank in the
communicator has to make the same sequence of calls or the program will
deadlock.
*/
package mpi

import (
	"errors"
)

// Undefined is the color passed to Split by ranks that shouldn't end up in any
// of the new communicators.
const Undefined = -1

// ErrAborted is wrapped by every error returned from a collective call after
// some rank has called Abort.
var ErrAborted = errors.New("communicator aborted")

// Comm is a group of ranks that take part in collective operations together.
type Comm interface {
	// Size returns the number of ranks in the communicator. Not collective.
	Size() int
	// Rank returns the index of the calling rank, in [0, Size()). Not
	// collective.
	Rank() int

	// Barrier blocks until every rank has called Barrier.
	Barrier() error
	// Allgather sends send to every rank. The returned array is indexed by
	// rank and can be modified by the caller.
	Allgather(send []byte) ([][]byte, error)
	// Gather sends send to root. The root receives an array indexed by rank,
	// every other rank receives nil.
	Gather(send []byte, root int) ([][]byte, error)
	// Bcast returns root's buf on every rank. buf is ignored on other ranks.
	Bcast(buf []byte, root int) ([]byte, error)
	// Split partitions the communicator into one new communicator per color.
	// Ranks inside a new communicator are ordered by key, then by their rank
	// in the old communicator. Ranks which pass Undefined get a nil Comm.
	Split(color, key int) (Comm, error)
	// Free releases a communicator created by Split. The Comm can't be used
	// afterwards. The world communicator can't be freed.
	Free() error

	// Abort makes every pending and future collective call on every
	// communicator in the job fail. Not collective.
	Abort(err error)
}
