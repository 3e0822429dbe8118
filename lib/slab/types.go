/*package slab reads and writes .slab files: small self-describing containers
for domain-decomposed grid data. A file holds one or more datasets, each with
a global extent, the hyperslab written by every rank, a domain record, and a
list of typed scalar attributes.

Files are written collectively with ParallelWriter. Every rank calls Open,
WriteDomain, WriteAttribute, Finalize, and Close in the same order. Each of
these calls exchanges a status record between ranks, so an error on one rank
is returned by the same call on every rank instead of leaving the others
blocked.
*/
package slab

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Number is the set of element types which can be stored in a dataset.
type Number interface {
	~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// TypeFlag is a flag representing an element type.
type TypeFlag uint32
const (
	Int32Flag TypeFlag = iota
	Int64Flag
	Uint32Flag
	Uint64Flag
	Float32Flag
	Float64Flag
	numFlags
)

var typeNames = [numFlags]string{ "i32", "i64", "u32", "u64", "f32", "f64" }

func (f TypeFlag) String() string {
	if !f.Valid() { return fmt.Sprintf("TypeFlag(%d)", uint32(f)) }
	return typeNames[f]
}

// Valid returns true if f is a known flag.
func (f TypeFlag) Valid() bool { return f < numFlags }

// Size returns the number of bytes in a single element.
func (f TypeFlag) Size() int {
	switch f {
	case Int32Flag, Uint32Flag, Float32Flag: return 4
	case Int64Flag, Uint64Flag, Float64Flag: return 8
	}
	panic(fmt.Sprintf("Internal error: Size() called on %v.", f))
}

// TypeOf returns the type flag associated with T.
func TypeOf[T Number]() TypeFlag {
	var x T
	switch any(x).(type) {
	case int32: return Int32Flag
	case int64: return Int64Flag
	case uint32: return Uint32Flag
	case uint64: return Uint64Flag
	case float32: return Float32Flag
	case float64: return Float64Flag
	}

	// Named types with one of the underlying types above end up here.
	switch binary.Size(x) {
	case 4:
		switch any(T(1) / 2) {
		case any(T(0)):
			if T(0) - 1 > 0 { return Uint32Flag }
			return Int32Flag
		}
		return Float32Flag
	default:
		switch any(T(1) / 2) {
		case any(T(0)):
			if T(0) - 1 > 0 { return Uint64Flag }
			return Int64Flag
		}
		return Float64Flag
	}
}

// DataClass says how a dataset should be interpreted.
type DataClass uint32
const (
	// GridType datasets are regular grids split between ranks.
	GridType DataClass = iota
	// PolyType datasets are lists of particles.
	PolyType
)

func (c DataClass) String() string {
	switch c {
	case GridType: return "grid"
	case PolyType: return "poly"
	}
	return fmt.Sprintf("DataClass(%d)", uint32(c))
}

// Dims is a three-dimensional extent, offset, or position. Lower-dimensional
// data sets the trailing entries to 1 (for extents) or 0 (for offsets).
type Dims [3]int

// Volume returns the number of elements in an extent.
func (d Dims) Volume() int { return d[0]*d[1]*d[2] }

func (d Dims) toInt64() [3]int64 {
	return [3]int64{ int64(d[0]), int64(d[1]), int64(d[2]) }
}

func fromInt64(d [3]int64) Dims {
	return Dims{ int(d[0]), int(d[1]), int(d[2]) }
}

// Domain is the region of the simulation covered by a dataset, in global
// coordinates. It can differ from the dataset's own extent when the
// simulation frame moves.
type Domain struct {
	Offset, Size Dims
}

// Box is the hyperslab written by a single rank.
type Box struct {
	Offset, Size Dims
}

// contains returns true if b lies inside [0, global).
func (b Box) inside(global Dims) bool {
	for i := 0; i < 3; i++ {
		if b.Offset[i] < 0 || b.Size[i] < 0 ||
			b.Offset[i] + b.Size[i] > global[i] {
			return false
		}
	}
	return true
}

func (b Box) overlaps(c Box) bool {
	for i := 0; i < 3; i++ {
		if b.Offset[i] >= c.Offset[i] + c.Size[i] ||
			c.Offset[i] >= b.Offset[i] + b.Size[i] {
			return false
		}
	}
	return true
}

// checkBoxes returns an error unless boxes tile [0, global) exactly.
func checkBoxes(boxes []Box, global Dims) error {
	vol := 0
	for i := range boxes {
		if !boxes[i].inside(global) {
			return fmt.Errorf("rank %d's hyperslab (offset %v, size %v) is " +
				"outside the global extent %v", i, boxes[i].Offset,
				boxes[i].Size, global)
		}
		if boxes[i].Size.Volume() == 0 { continue }
		vol += boxes[i].Size.Volume()
		for j := 0; j < i; j++ {
			if boxes[j].Size.Volume() > 0 && boxes[i].overlaps(boxes[j]) {
				return fmt.Errorf("the hyperslabs of ranks %d and %d overlap",
					j, i)
			}
		}
	}

	if vol != global.Volume() {
		return fmt.Errorf("the hyperslabs of all ranks cover %d elements, " +
			"but the global extent %v has %d", vol, global, global.Volume())
	}
	return nil
}

// FileAttr describes how the ranks writing a file are arranged.
type FileAttr struct {
	// MPISize is the shape of the rank grid. Its volume must equal the
	// number of ranks in the communicator.
	MPISize Dims
	// MPIPosition is the calling rank's position in the grid.
	MPIPosition Dims
}

// Attribute is a named scalar attached to a dataset.
type Attribute struct {
	Name string
	Type TypeFlag
	bits uint64
}

// NewAttribute creates an Attribute holding a value of any Number type.
func NewAttribute[T Number](name string, x T) Attribute {
	flag := TypeOf[T]()
	var bits uint64
	switch flag {
	case Float32Flag: bits = uint64(math.Float32bits(float32(x)))
	case Float64Flag: bits = math.Float64bits(float64(x))
	case Int32Flag, Int64Flag: bits = uint64(int64(x))
	default: bits = uint64(x)
	}
	return Attribute{ name, flag, bits }
}

// Value returns the attribute's value with its original type.
func (a Attribute) Value() interface{} {
	switch a.Type {
	case Int32Flag: return int32(int64(a.bits))
	case Int64Flag: return int64(a.bits)
	case Uint32Flag: return uint32(a.bits)
	case Uint64Flag: return a.bits
	case Float32Flag: return math.Float32frombits(uint32(a.bits))
	case Float64Flag: return math.Float64frombits(a.bits)
	}
	panic(fmt.Sprintf("Internal error: attribute '%s' has type %v.",
		a.Name, a.Type))
}

// Float64 returns the attribute's value converted to a float64.
func (a Attribute) Float64() float64 {
	switch x := a.Value().(type) {
	case int32: return float64(x)
	case int64: return float64(x)
	case uint32: return float64(x)
	case uint64: return float64(x)
	case float32: return float64(x)
	case float64: return x
	}
	panic("'Impossible' type configuration.")
}

func (a Attribute) String() string {
	return fmt.Sprintf("%s (%v) = %v", a.Name, a.Type, a.Value())
}
