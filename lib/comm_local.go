//go:build !mpi

package lib

import (
	"fmt"

	"github.com/phil-mansfield/phasedump/lib/mpi"
)

func mpiWorld() (mpi.Comm, func() error, error) {
	return nil, nil, fmt.Errorf("phasedump was built without MPI support. " +
		"Rebuild it with 'go build -tags mpi' or run it in local mode.")
}
