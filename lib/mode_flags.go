package lib

// RunMode indicates how the ranks of a dump are run.
type RunMode int
const (
	// LocalMode runs every rank as a goroutine in a single process.
	LocalMode RunMode = iota
	// MPIMode runs one rank per MPI process. It needs phasedump to be built
	// with the "mpi" tag.
	MPIMode
)

func (m RunMode) String() string {
	switch m {
	case LocalMode: return "local"
	case MPIMode: return "mpi"
	}
	return "unknown"
}

// CheckStrictness indicates how functions related to the "check" phasedump
// mode should behave when they encounter an error.
type CheckStrictness int
const (
	CrashOnError CheckStrictness = iota
	WarnOnError
)
