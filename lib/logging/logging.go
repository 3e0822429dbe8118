package logging

import (
	"fmt"
	"runtime"
)

type Flag int

const (
	Nil Flag = iota
	Performance
	Debug
)

// This is handled this way so that the run configuration doesn't need to be
// passed to every collective call in the project.
var (
	Mode Flag = Nil
)

// ParseFlag converts the name of a logging mode ("nil", "performance",
// "debug") to a Flag.
func ParseFlag(s string) (Flag, error) {
	switch s {
	case "", "nil", "Nil": return Nil, nil
	case "performance", "Performance": return Performance, nil
	case "debug", "Debug": return Debug, nil
	}
	return Nil, fmt.Errorf("'%s' is not a logging mode. Valid modes are " +
		"'nil', 'performance', and 'debug'.", s)
}

// MemString returns a string containing various statistics on the current
// memory usage of phasedump.
func MemString() string {
	ms := runtime.MemStats{}
	runtime.ReadMemStats(&ms)
	s := fmt.Sprintf(
		"Alloc - %d MB; Sys - %d MB Integrated - %d MB",
		ms.Alloc >> 20, ms.Sys >> 20, ms.TotalAlloc >> 20,
	)
	if rss, ok := peakRSS(); ok {
		s += fmt.Sprintf("; Peak RSS - %d MB", rss >> 20)
	}
	return s
}
