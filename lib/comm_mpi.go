//go:build mpi

package lib

import (
	"github.com/phil-mansfield/phasedump/lib/mpi"
)

// mpiWorld starts MPI and returns the world communicator along with a
// function which shuts MPI down.
func mpiWorld() (mpi.Comm, func() error, error) {
	if err := mpi.Init(); err != nil { return nil, nil, err }
	return mpi.CommWorld(), mpi.Finalize, nil
}
