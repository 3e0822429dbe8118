package slab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// MagicNumber is an arbitrary number at the start of all slab files which
	// identifies them when the code is run on something else by accident.
	MagicNumber = 0x51ab51ab
	// ReverseMagicNumber is the magic number if read on a machine with
	// flipped endianness.
	ReverseMagicNumber = 0xab51ab51
	Version = 1
)

// DatasetInfo is the part of a dataset's description which has to be the same
// on every rank.
type DatasetInfo struct {
	Name string
	// Step is the simulation step the data was taken at.
	Step int
	Type TypeFlag
	Class DataClass
	// NDims is the number of dimensions actually used by Global.
	NDims int
	// Global is the extent of the full dataset.
	Global Dims
	// Domain is where the dataset sits in the simulation.
	Domain Domain
}

// Dataset is a single named array inside a file.
type Dataset struct {
	DatasetInfo
	// Placements gives the hyperslab written by each rank.
	Placements []Box
	Attrs []Attribute

	order binary.ByteOrder
	data []byte
}

// File is the in-memory version of a slab file.
type File struct {
	// MPISize is the shape of the rank grid which wrote the file.
	MPISize Dims
	// Positions is the position of each rank in the grid.
	Positions []Dims
	Datasets []*Dataset
}

type fileHeader struct {
	NRanks int64
	MPISize [3]int64
	NDatasets int64
}

type datasetHeader struct {
	Type, Class uint32
	NDims, Step int64
	Global [3]int64
	DomainOffset, DomainSize [3]int64
	NAttrs int64
	NameLen, DataLen int64
}

type boxRecord struct {
	Offset, Size [3]int64
}

type attrHeader struct {
	Type uint32
	NameLen uint32
	Bits uint64
}

func (ds *Dataset) header() *datasetHeader {
	return &datasetHeader{
		Type: uint32(ds.Type), Class: uint32(ds.Class),
		NDims: int64(ds.NDims), Step: int64(ds.Step),
		Global: ds.Global.toInt64(),
		DomainOffset: ds.Domain.Offset.toInt64(),
		DomainSize: ds.Domain.Size.toInt64(),
		NAttrs: int64(len(ds.Attrs)),
		NameLen: int64(len(ds.Name)), DataLen: int64(len(ds.data)),
	}
}

// writeFile writes f to w in a given byte order.
func writeFile(w io.Writer, order binary.ByteOrder, f *File) error {
	if err := binary.Write(w, order, uint32(MagicNumber)); err != nil {
		return err
	}
	if err := binary.Write(w, order, uint32(Version)); err != nil {
		return err
	}

	hd := &fileHeader{
		int64(len(f.Positions)), f.MPISize.toInt64(), int64(len(f.Datasets)),
	}
	if err := binary.Write(w, order, hd); err != nil { return err }

	pos := make([][3]int64, len(f.Positions))
	for i := range pos { pos[i] = f.Positions[i].toInt64() }
	if err := binary.Write(w, order, pos); err != nil { return err }

	for _, ds := range f.Datasets {
		if err := writeDataset(w, order, ds); err != nil { return err }
	}
	return nil
}

func writeDataset(w io.Writer, order binary.ByteOrder, ds *Dataset) error {
	if err := binary.Write(w, order, ds.header()); err != nil { return err }
	if _, err := io.WriteString(w, ds.Name); err != nil { return err }

	boxes := make([]boxRecord, len(ds.Placements))
	for i, b := range ds.Placements {
		boxes[i] = boxRecord{ b.Offset.toInt64(), b.Size.toInt64() }
	}
	if err := binary.Write(w, order, boxes); err != nil { return err }

	for _, a := range ds.Attrs {
		ahd := &attrHeader{ uint32(a.Type), uint32(len(a.Name)), a.bits }
		if err := binary.Write(w, order, ahd); err != nil { return err }
		if _, err := io.WriteString(w, a.Name); err != nil { return err }
	}

	// The payload is stored in the writer's byte order, so it may need to be
	// swapped.
	data := ds.data
	if ds.order != nil && ds.order != order {
		data = swapBytes(data, ds.Type.Size())
	}
	_, err := w.Write(data)
	return err
}

// readFile reads a file written by writeFile. fname is only used for error
// messages.
func readFile(fname string, r io.Reader) (*File, error) {
	order, err := checkFile(fname, r)
	if err != nil { return nil, err }

	hd := &fileHeader{ }
	if err := binary.Read(r, order, hd); err != nil { return nil, err }
	if hd.NRanks < 0 || hd.NDatasets < 0 {
		return nil, fmt.Errorf("The header of %s is corrupted: it claims " +
			"to have %d ranks and %d datasets.", fname,
			hd.NRanks, hd.NDatasets)
	}

	pos := make([][3]int64, hd.NRanks)
	if err := binary.Read(r, order, pos); err != nil { return nil, err }

	f := &File{
		MPISize: fromInt64(hd.MPISize),
		Positions: make([]Dims, hd.NRanks),
		Datasets: make([]*Dataset, hd.NDatasets),
	}
	for i := range pos { f.Positions[i] = fromInt64(pos[i]) }

	for i := range f.Datasets {
		f.Datasets[i], err = readDataset(fname, r, order, int(hd.NRanks))
		if err != nil { return nil, err }
	}
	return f, nil
}

func readDataset(
	fname string, r io.Reader, order binary.ByteOrder, nRanks int,
) (*Dataset, error) {
	hd := &datasetHeader{ }
	if err := binary.Read(r, order, hd); err != nil { return nil, err }
	if !TypeFlag(hd.Type).Valid() || hd.NAttrs < 0 ||
		hd.NameLen < 0 || hd.DataLen < 0 {
		return nil, fmt.Errorf("A dataset header in %s is corrupted.", fname)
	}

	ds := &Dataset{
		DatasetInfo: DatasetInfo{
			Step: int(hd.Step),
			Type: TypeFlag(hd.Type),
			Class: DataClass(hd.Class),
			NDims: int(hd.NDims),
			Global: fromInt64(hd.Global),
			Domain: Domain{
				fromInt64(hd.DomainOffset), fromInt64(hd.DomainSize),
			},
		},
		Placements: make([]Box, nRanks),
		Attrs: make([]Attribute, hd.NAttrs),
		order: order,
		data: make([]byte, hd.DataLen),
	}

	name := make([]byte, hd.NameLen)
	if _, err := io.ReadFull(r, name); err != nil { return nil, err }
	ds.Name = string(name)

	boxes := make([]boxRecord, nRanks)
	if err := binary.Read(r, order, boxes); err != nil { return nil, err }
	for i := range boxes {
		ds.Placements[i] = Box{
			fromInt64(boxes[i].Offset), fromInt64(boxes[i].Size),
		}
	}

	for i := range ds.Attrs {
		ahd := &attrHeader{ }
		if err := binary.Read(r, order, ahd); err != nil { return nil, err }
		b := make([]byte, ahd.NameLen)
		if _, err := io.ReadFull(r, b); err != nil { return nil, err }
		ds.Attrs[i] = Attribute{ string(b), TypeFlag(ahd.Type), ahd.Bits }
		if !ds.Attrs[i].Type.Valid() {
			return nil, fmt.Errorf("Attribute '%s' of dataset '%s' in %s " +
				"has an unrecognized type flag, %d.", ds.Attrs[i].Name,
				ds.Name, fname, ahd.Type)
		}
	}

	if _, err := io.ReadFull(r, ds.data); err != nil { return nil, err }
	if len(ds.data) != ds.Global.Volume()*ds.Type.Size() {
		return nil, fmt.Errorf("Dataset '%s' in %s has %d bytes of data, " +
			"but a %v array of %v values needs %d.", ds.Name, fname,
			len(ds.data), ds.Global, ds.Type,
			ds.Global.Volume()*ds.Type.Size())
	}
	return ds, nil
}

// checkFile reads in the file's magic number and version number and makes
// sure that it can actually be read. If it can, the byte order is returned.
func checkFile(fname string, r io.Reader) (binary.ByteOrder, error) {
	var magicNumber, version uint32

	order := binary.ByteOrder(binary.LittleEndian)
	if err := binary.Read(r, order, &magicNumber); err != nil {
		return nil, err
	}

	switch magicNumber {
	case MagicNumber:
	case ReverseMagicNumber: order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%s is not a slab file. All slab files " +
			"begin with either the 32-bit integer %x or %x. This file begins " +
			"with %x.", fname, MagicNumber, ReverseMagicNumber, magicNumber)
	}

	if err := binary.Read(r, order, &version); err != nil { return nil, err }
	if version != Version {
		return nil, fmt.Errorf("The file %s has format version %d, but " +
			"this version of phasedump only reads version %d.", fname,
			version, Version)
	}

	return order, nil
}

// swapBytes returns a copy of b with the byte order of each size-byte element
// reversed.
func swapBytes(b []byte, size int) []byte {
	out := make([]byte, len(b))
	for i := 0; i+size <= len(b); i += size {
		for j := 0; j < size; j++ {
			out[i + j] = b[i + size - 1 - j]
		}
	}
	return out
}

// encodeFile returns f encoded in a given byte order.
func encodeFile(order binary.ByteOrder, f *File) ([]byte, error) {
	buf := &bytes.Buffer{ }
	if err := writeFile(buf, order, f); err != nil { return nil, err }
	return buf.Bytes(), nil
}
