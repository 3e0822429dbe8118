//go:build unix

package logging

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// peakRSS returns the maximum resident set size of the process in bytes.
func peakRSS() (int64, bool) {
	ru := unix.Rusage{ }
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	// Linux and the BSDs report kilobytes, darwin reports bytes.
	if runtime.GOOS == "darwin" { return int64(ru.Maxrss), true }
	return int64(ru.Maxrss) << 10, true
}
