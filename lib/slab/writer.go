package slab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/phil-mansfield/phasedump/lib/mpi"
)

// Root is the rank which assembles and writes the file.
const Root = 0

// RankError is returned on every rank when a collective call failed on
// another rank.
type RankError struct {
	Rank int
	Msg string
}

func (e *RankError) Error() string {
	return fmt.Sprintf("rank %d: %s", e.Rank, e.Msg)
}

// agree exchanges the status of a collective step between all ranks. If any
// rank failed, every rank returns an error: the local one if the calling rank
// failed, and a RankError describing the lowest failing rank otherwise.
func agree(comm mpi.Comm, err error) error {
	msg := []byte{ 0 }
	if err != nil { msg = append([]byte{ 1 }, err.Error()...) }

	all, cerr := comm.Allgather(msg)
	if cerr != nil {
		if err != nil { return err }
		return cerr
	}
	if err != nil { return err }

	for rank := range all {
		if len(all[rank]) > 0 && all[rank][0] == 1 {
			return &RankError{ rank, string(all[rank][1:]) }
		}
	}
	return nil
}

// ParallelWriter writes a slab file collectively. All ranks buffer the
// metadata of every dataset, while only Root holds the data and the file.
type ParallelWriter struct {
	comm mpi.Comm
	fname string
	order binary.ByteOrder
	file File

	f *os.File
	finalized, closed bool
}

// Open collectively creates the file fname, including any missing parent
// directories. attr.MPISize must have a volume equal to comm.Size() and every
// rank must have a different attr.MPIPosition inside it.
func Open(comm mpi.Comm, fname string, attr FileAttr) (*ParallelWriter, error) {
	var err error
	if attr.MPISize.Volume() != comm.Size() {
		err = fmt.Errorf("the rank grid %v has %d ranks, but the " +
			"communicator has %d", attr.MPISize, attr.MPISize.Volume(),
			comm.Size())
	} else if !(Box{ attr.MPIPosition, Dims{ 1, 1, 1 } }).inside(attr.MPISize) {
		err = fmt.Errorf("position %v is outside the rank grid %v",
			attr.MPIPosition, attr.MPISize)
	}
	if err = agree(comm, err); err != nil { return nil, err }

	all, err := comm.Allgather(encodeDims(attr.MPIPosition))
	if err != nil { return nil, err }

	wr := &ParallelWriter{
		comm: comm, fname: fname, order: binary.LittleEndian,
		file: File{ MPISize: attr.MPISize, Positions: make([]Dims, len(all)) },
	}

	seen := map[Dims]int{ }
	for rank := range all {
		wr.file.Positions[rank] = decodeDims(all[rank])
		if prev, ok := seen[wr.file.Positions[rank]]; ok {
			return nil, fmt.Errorf("ranks %d and %d both have the rank grid " +
				"position %v", prev, rank, wr.file.Positions[rank])
		}
		seen[wr.file.Positions[rank]] = rank
	}

	if comm.Rank() == Root {
		err = os.MkdirAll(filepath.Dir(fname), 0755)
		if err == nil { wr.f, err = os.Create(fname) }
	}
	if err = agree(comm, err); err != nil {
		if wr.f != nil {
			wr.f.Close()
			os.Remove(fname)
		}
		return nil, err
	}

	return wr, nil
}

// Name returns the name of the file being written.
func (wr *ParallelWriter) Name() string { return wr.fname }

func (wr *ParallelWriter) checkOpen() error {
	if wr.closed {
		return fmt.Errorf("%s has already been closed", wr.fname)
	} else if wr.finalized {
		return fmt.Errorf("%s has already been finalized", wr.fname)
	}
	return nil
}

func (wr *ParallelWriter) find(name string) *Dataset {
	for _, ds := range wr.file.Datasets {
		if ds.Name == name { return ds }
	}
	return nil
}

func (info *DatasetInfo) check() error {
	switch {
	case info.Name == "":
		return fmt.Errorf("datasets must have non-empty names")
	case !info.Type.Valid():
		return fmt.Errorf("dataset '%s' has an unknown type, %v",
			info.Name, info.Type)
	case info.NDims < 1 || info.NDims > 3:
		return fmt.Errorf("dataset '%s' has %d dimensions",
			info.Name, info.NDims)
	}
	for i := 0; i < 3; i++ {
		if info.Global[i] < 0 || (i >= info.NDims && info.Global[i] != 1) {
			return fmt.Errorf("dataset '%s' has an invalid %d-dimensional " +
				"extent, %v", info.Name, info.NDims, info.Global)
		}
	}
	return nil
}

// WriteDomain collectively adds a dataset to the file. Every rank passes the
// same info along with the hyperslab it owns and its row-major data for that
// hyperslab. The hyperslabs of all ranks must tile info.Global exactly.
func (wr *ParallelWriter) WriteDomain(
	info DatasetInfo, box Box, data []byte,
) error {
	err := wr.checkOpen()
	if err == nil { err = info.check() }
	if err == nil && wr.find(info.Name) != nil {
		err = fmt.Errorf("dataset '%s' has already been written", info.Name)
	}
	if err == nil && len(data) != box.Size.Volume()*info.Type.Size() {
		err = fmt.Errorf("a %v hyperslab of %v values needs %d bytes, but " +
			"was given %d", box.Size, info.Type,
			box.Size.Volume()*info.Type.Size(), len(data))
	}
	if err = agree(wr.comm, err); err != nil { return err }

	all, err := wr.comm.Allgather(encodeInfo(&info, box))
	if err != nil { return err }

	ds := &Dataset{
		DatasetInfo: info, order: wr.order,
		Placements: make([]Box, len(all)),
	}

	ref := all[Root]
	for rank := range all {
		ds.Placements[rank] = decodeBox(all[rank])
		if !bytes.Equal(all[rank][boxRecordSize:], ref[boxRecordSize:]) {
			return fmt.Errorf("ranks %d and %d disagree on the description " +
				"of dataset '%s'", Root, rank, info.Name)
		}
	}
	if err := checkBoxes(ds.Placements, info.Global); err != nil {
		return fmt.Errorf("dataset '%s': %w", info.Name, err)
	}

	payloads, err := wr.comm.Gather(data, Root)
	if err != nil { return err }

	if wr.comm.Rank() == Root {
		ds.data = make([]byte, info.Global.Volume()*info.Type.Size())
		for rank := range payloads {
			place(ds.data, info.Global, ds.Placements[rank],
				payloads[rank], info.Type.Size())
		}
	}

	wr.file.Datasets = append(wr.file.Datasets, ds)
	return nil
}

// place copies the row-major data of a hyperslab into a global array.
func place(global []byte, extent Dims, box Box, data []byte, size int) {
	row := box.Size[2]*size
	if row == 0 { return }
	for i0 := 0; i0 < box.Size[0]; i0++ {
		for i1 := 0; i1 < box.Size[1]; i1++ {
			src := (i0*box.Size[1] + i1)*row
			dst := ((box.Offset[0] + i0)*extent[1] +
				box.Offset[1] + i1)*extent[2] + box.Offset[2]
			copy(global[dst*size: dst*size + row], data[src: src + row])
		}
	}
}

// WriteAttribute collectively attaches an attribute to a dataset. The
// attribute must be identical on every rank.
func (wr *ParallelWriter) WriteAttribute(dataset string, attr Attribute) error {
	err := wr.checkOpen()
	ds := wr.find(dataset)
	if err == nil && ds == nil {
		err = fmt.Errorf("dataset '%s' hasn't been written", dataset)
	} else if err == nil && !attr.Type.Valid() {
		err = fmt.Errorf("attribute '%s' has an unknown type, %v",
			attr.Name, attr.Type)
	} else if err == nil {
		for _, a := range ds.Attrs {
			if a.Name == attr.Name {
				err = fmt.Errorf("dataset '%s' already has an attribute " +
					"named '%s'", dataset, attr.Name)
				break
			}
		}
	}
	if err = agree(wr.comm, err); err != nil { return err }

	all, err := wr.comm.Allgather(encodeAttr(attr))
	if err != nil { return err }
	for rank := range all {
		if !bytes.Equal(all[rank], all[Root]) {
			return fmt.Errorf("attribute '%s' of dataset '%s' differs " +
				"between ranks %d and %d", attr.Name, dataset, Root, rank)
		}
	}

	ds.Attrs = append(ds.Attrs, attr)
	return nil
}

// Finalize collectively writes the buffered datasets to disk. No more
// datasets or attributes can be added afterwards.
func (wr *ParallelWriter) Finalize() error {
	err := wr.checkOpen()
	if err == nil && wr.comm.Rank() == Root {
		var b []byte
		b, err = encodeFile(wr.order, &wr.file)
		if err == nil { _, err = wr.f.Write(b) }
		if err == nil { err = wr.f.Sync() }
	}
	if err = agree(wr.comm, err); err != nil { return err }

	wr.finalized = true
	return nil
}

// Close collectively releases the file. A file which was never finalized is
// removed. Calling Close more than once does nothing.
func (wr *ParallelWriter) Close() error {
	if wr.closed { return nil }
	wr.closed = true

	var err error
	if wr.f != nil {
		err = wr.f.Close()
		if !wr.finalized { os.Remove(wr.fname) }
		wr.f = nil
	}
	return agree(wr.comm, err)
}

/////////////////////////
// Collective encoding //
/////////////////////////

const boxRecordSize = 6*8

func encodeDims(d Dims) []byte {
	b := make([]byte, 24)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint64(b[8*i:], uint64(int64(d[i])))
	}
	return b
}

func decodeDims(b []byte) Dims {
	var d Dims
	for i := 0; i < 3; i++ {
		d[i] = int(int64(binary.LittleEndian.Uint64(b[8*i:])))
	}
	return d
}

func decodeBox(b []byte) Box {
	return Box{ decodeDims(b[:24]), decodeDims(b[24:48]) }
}

// encodeInfo encodes a hyperslab followed by the shared dataset description.
func encodeInfo(info *DatasetInfo, box Box) []byte {
	buf := &bytes.Buffer{ }
	buf.Write(encodeDims(box.Offset))
	buf.Write(encodeDims(box.Size))

	ds := &Dataset{ DatasetInfo: *info }
	binary.Write(buf, binary.LittleEndian, ds.header())
	buf.WriteString(info.Name)
	return buf.Bytes()
}

func encodeAttr(a Attribute) []byte {
	buf := &bytes.Buffer{ }
	ahd := &attrHeader{ uint32(a.Type), uint32(len(a.Name)), a.bits }
	binary.Write(buf, binary.LittleEndian, ahd)
	buf.WriteString(a.Name)
	return buf.Bytes()
}
