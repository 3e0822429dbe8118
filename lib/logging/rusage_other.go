//go:build !unix

package logging

func peakRSS() (int64, bool) { return 0, false }
