package phasespace

import (
	"fmt"

	"github.com/phil-mansfield/phasedump/lib/hbuf"
	"github.com/phil-mansfield/phasedump/lib/slab"
)

// Load reads a histogram written by Dump back into memory, converting it to
// float64 regardless of the type it was written with.
func Load(fname, dataset string) (*hbuf.Buffer[float64], *slab.Dataset, error) {
	f, err := slab.ReadFile(fname)
	if err != nil { return nil, nil, err }
	ds, err := f.Dataset(dataset)
	if err != nil { return nil, nil, err }

	if ds.NDims != 2 || ds.Class != slab.GridType {
		return nil, nil, fmt.Errorf("Dataset '%s' in %s is a %d-dimensional " +
			"%v dataset, not a phase space histogram.", dataset, fname,
			ds.NDims, ds.Class)
	}

	var x []float64
	switch ds.Type {
	case slab.Int32Flag: x, err = toFloat64[int32](ds)
	case slab.Int64Flag: x, err = toFloat64[int64](ds)
	case slab.Uint32Flag: x, err = toFloat64[uint32](ds)
	case slab.Uint64Flag: x, err = toFloat64[uint64](ds)
	case slab.Float32Flag: x, err = toFloat64[float32](ds)
	case slab.Float64Flag: x, err = slab.Values[float64](ds)
	default:
		panic(fmt.Sprintf("Internal error: unknown type flag %v.", ds.Type))
	}
	if err != nil { return nil, nil, err }

	buf, err := hbuf.FromSlice(ds.Global[0], ds.Global[1], x)
	if err != nil { return nil, nil, err }
	return buf, ds, nil
}

func toFloat64[T slab.Number](ds *slab.Dataset) ([]float64, error) {
	x, err := slab.Values[T](ds)
	if err != nil { return nil, err }
	out := make([]float64, len(x))
	for i := range x { out[i] = float64(x[i]) }
	return out, nil
}
