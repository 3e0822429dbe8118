package lib

/* thread.go contains functions useful for multi-threading. */

import (
	"fmt"
	"runtime"
)

// SetThreads sets the number of threads used by phasedump. n = -1 uses every
// core.
func SetThreads(n int) error {
	if n == -1 { n = runtime.NumCPU() }
	if n <= 0 {
		return fmt.Errorf("%d threads requested. If you want phasedump to " +
			"use the maximum number of threads per node, set Threads = -1.", n)
	} else if n > runtime.NumCPU() {
		return fmt.Errorf("%d threads requested, but your system only has " +
			"%d cores per node. If you want phasedump to use the maximum " +
			"number of threads per node, set Threads = -1.",
			n, runtime.NumCPU())
	}

	runtime.GOMAXPROCS(n)
	return nil
}
