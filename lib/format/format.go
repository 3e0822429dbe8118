/*package format handles the names phasedump gives to its output and the
small formatting language used to choose which steps get dumped.

Output names are derived from a pair of axes: a spatial axis and a momentum
component, each written with a letter from "xyz". Dumping y against p_z at
step 1000 writes the dataset "ypz" to

   phaseSpace/PhaseSpace_ypz_1000.slab

Step lists are sequence formats, a generic way to specify non-contiguous
sequences of natural numbers. They consist of a series of n tokens separated
by "+" or "-". Each token can be either a number or two numbers separted by
"..". E.g.:

  100
  0..100
  0..10 + 100
  0..100 - 63 - 10..20

All spaces around "-" and "+" symbols are ignored.
*/
package format

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	g_error "github.com/phil-mansfield/phasedump/lib/error"
)

const (
	// Any expanded formats which would have more than BigNumber elements are
	// assumed to be bugs.
	BigNumber = 1<<20

	// Coords maps axis indices to letters.
	Coords = "xyz"
	// Dir is the directory that phase space files are written to.
	Dir = "phaseSpace"
	// Extension is added to every file written by phasedump.
	Extension = ".slab"
)

// ErrAxisRange is returned when an axis index isn't 0, 1, or 2.
var ErrAxisRange = errors.New("axis index out of range")

// Selector chooses the phase space plane to dump.
type Selector struct {
	// Spatial is the spatial axis, 0 through 2.
	Spatial int
	// Momentum is the momentum component, 0 through 2.
	Momentum int
}

// String returns the plane's name, e.g. "xpy".
func (s Selector) String() string {
	if s.Check() != nil { return fmt.Sprintf("?p?(%d,%d)", s.Spatial, s.Momentum) }
	return fmt.Sprintf("%cp%c", Coords[s.Spatial], Coords[s.Momentum])
}

// Check returns an error wrapping ErrAxisRange if either axis is invalid.
func (s Selector) Check() error {
	if s.Spatial < 0 || s.Spatial >= len(Coords) {
		return fmt.Errorf("%w: spatial axis %d", ErrAxisRange, s.Spatial)
	} else if s.Momentum < 0 || s.Momentum >= len(Coords) {
		return fmt.Errorf("%w: momentum component %d",
			ErrAxisRange, s.Momentum)
	}
	return nil
}

// ParsePlane parses a plane name like "ypz" into a Selector.
func ParsePlane(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if len(s) != 3 || s[1] != 'p' {
		return Selector{ }, fmt.Errorf("'%s' is not a phase space plane. " +
			"Planes take the form <axis>p<axis>, e.g. 'xpx' or 'ypz'.", s)
	}
	sp, mom := strings.IndexByte(Coords, s[0]), strings.IndexByte(Coords, s[2])
	if sp == -1 || mom == -1 {
		return Selector{ }, fmt.Errorf("'%s' is not a phase space plane. " +
			"Axes must be one of 'x', 'y', or 'z'.", s)
	}
	return Selector{ sp, mom }, nil
}

// Target gives the names of the output of a single dump.
type Target struct {
	// File is the path of the file without the step number or extension.
	File string
	// Dataset is the name of the dataset inside the file.
	Dataset string
}

// Descriptor returns the output names for a given plane.
func Descriptor(s Selector) (Target, error) {
	if err := s.Check(); err != nil { return Target{ }, err }
	name := s.String()
	return Target{ path.Join(Dir, "PhaseSpace_" + name), name }, nil
}

// FileName returns the name of the file written at a given step.
func (t Target) FileName(step int) string {
	return fmt.Sprintf("%s_%d%s", t.File, step, Extension)
}

// ExpandSequenceFormat expands a sequence format string into a sorted sequence
// of integers.
func ExpandSequenceFormat(format string) ([]int, error) {
	// Parse and error-check the format string.
	tok, err := tokeniseSequenceFormat(format)
	if err != nil { return nil, err }
	adds, subs, err := addsSubsSequenceFormat(tok)
	if err != nil { return nil, err }

	m := map[int]bool{ }
	for i := range adds {
		for _, n := range parseSequenceFormatToken(adds[i]) {
			if m[n] {
				return nil, fmt.Errorf("The number %d is added more than once.", n)
			}
			m[n] = true
		}
	}

	for i := range subs {
		for _, n := range parseSequenceFormatToken(subs[i]) {
			if !m[n] {
				return nil, fmt.Errorf("The number %d is removed more times than it was inserted.", n)
			}
			delete(m, n)
		}
	}

	if len(m) > BigNumber {
		return nil, fmt.Errorf("This sequence would have %d elements, which is almost certianly a bug.", len(m))
	}

	out := []int{ }
	for n := range m { out = append(out, n) }
	sort.Ints(out)

	return out, nil
}

// tokeniseSequenceFormat splits a sequence format string into numbers,
// ranges, and operators.
func tokeniseSequenceFormat(format string) ([]string, error) {
	// Make sure all operators are separated by spaces.
	formatClean := strings.ReplaceAll(format, "+", " + ")
	formatClean = strings.ReplaceAll(formatClean, "-", " - ")

	tok := strings.Fields(formatClean)
	if len(tok) == 0 {
		return nil, fmt.Errorf("The format string is empty.")
	}
	return tok, nil
}

func addsSubsSequenceFormat(tok []string) (adds, subs []string, err error) {
	if len(tok) == 0 {
		return nil, nil, fmt.Errorf("Format string is empty")
	}

	// Handle the case where the starting "+" is dropped.
	adds, subs = []string{}, []string{}
	start := 0
	if tok[0] != "+" && tok[0] != "-" {
		if err := isSequenceFormatToken(tok[0]); err != nil {
			return nil, nil, fmt.Errorf(
				"Element number %d, '%s', cannot be parsed because %s",
				1, tok[0], err.Error(),
			)
		}
		adds = append(adds, tok[0])
		start = 1
	}

	for i := start; i < len(tok); i += 2 {
		if tok[i] != "-" && tok[i] != "+" {
			return nil, nil, fmt.Errorf(
				"Element number %d, '%s', should be a '-' or '+', but isn't.",
				i+1, tok[i])
		}

		if i + 1 >= len(tok) {
			return nil, nil, fmt.Errorf(
				"The format string ends in a trailing '%s'", tok[i],
			)
		}

		if err := isSequenceFormatToken(tok[i+1]); err != nil {
			return nil, nil, fmt.Errorf(
				"Element number %d, '%s', cannot be parsed because %s",
				i+2, tok[i+1], err.Error(),
			)
		}

		if tok[i] == "+" {
			adds = append(adds, tok[i+1])
		} else {
			subs = append(subs, tok[i+1])
		}
	}

	return adds, subs, nil
}

// isSequenceFormatToken returns a nil error is tok is a valid token for
// a sequence format and an error describing the problem otherwise. The error
// message assumes it is printed after a trailing "beacause"
func isSequenceFormatToken(tok string) error {
	if len(tok) == 0 {
		return fmt.Errorf("the format string is empty.")
	}

	bounds := strings.Split(tok, "..")

	switch len(bounds) {
	case 1:
		if _, err := strconv.Atoi(bounds[0]); err != nil {
			return fmt.Errorf("'%s' is not an integer.", bounds[0])
		}
		return nil
	case 2:
		start, err := strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("'%s' is not an integer.", bounds[0])
		}
		end, err := strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("'%s' is not an integer.", bounds[1])
		}
		if end < start {
			return fmt.Errorf("lower bound %d is larger than upper bound %d.",
				start, end)
		}
		return nil
	}
	return fmt.Errorf("it has more than one '..'.")
}

// parseSeqeunceFormatToken parses a single token in a seqeunce format stirng
// and returns the corresponding array of numbers. It assumes that
// isSequenceFormatToken has already accepted tok.
func parseSequenceFormatToken(tok string) []int {
	bounds := strings.Split(tok, "..")

	switch len(bounds) {
	case 1:
		n, _ := strconv.Atoi(tok)
		return []int{ n }
	case 2:
		start, _ := strconv.Atoi(bounds[0])
		end, _ := strconv.Atoi(bounds[1])
		out := make([]int, 0, end - start + 1)
		for n := start; n <= end; n++ {
			out = append(out, n)
		}
		return out
	}

	g_error.Internal(
		"Invalid sequence format token, '%s', passed isSeqeunceFormatToken()",
		tok,
	)
	return nil
}
