package slab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// ReadFile reads an entire slab file into memory.
func ReadFile(fname string) (*File, error) {
	b, err := os.ReadFile(fname)
	if err != nil { return nil, err }
	return readFile(fname, bytes.NewReader(b))
}

// Dataset returns the dataset with a given name.
func (f *File) Dataset(name string) (*Dataset, error) {
	names := make([]string, len(f.Datasets))
	for i, ds := range f.Datasets {
		if ds.Name == name { return ds, nil }
		names[i] = ds.Name
	}
	return nil, fmt.Errorf("The dataset '%s' is not in the file. It only " +
		"contains the datasets %q.", name, names)
}

// Attr returns the attribute with a given name.
func (ds *Dataset) Attr(name string) (Attribute, error) {
	for _, a := range ds.Attrs {
		if a.Name == name { return a, nil }
	}
	return Attribute{ }, fmt.Errorf("Dataset '%s' has no attribute " +
		"named '%s'.", ds.Name, name)
}

// Values returns the dataset's elements in row-major order. T must match the
// type the dataset was written with.
func Values[T Number](ds *Dataset) ([]T, error) {
	if flag := TypeOf[T](); flag != ds.Type {
		return nil, fmt.Errorf("Dataset '%s' contains %v values, but was " +
			"read as %v.", ds.Name, ds.Type, flag)
	}

	out := make([]T, ds.Global.Volume())
	order := ds.order
	if order == nil { order = binary.LittleEndian }
	err := binary.Read(bytes.NewReader(ds.data), order, out)
	if err != nil { return nil, err }
	return out, nil
}
