/*package hbuf contains the dense histogram buffer which phase space dumps are
made from. Dimension 0 is the spatial axis and dimension 1 is the momentum
axis, and elements are stored in row-major order.
*/
package hbuf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/phil-mansfield/phasedump/lib/mpi"
	"github.com/phil-mansfield/phasedump/lib/slab"
)

// Buffer is a rows x cols histogram.
type Buffer[T slab.Number] struct {
	rows, cols int
	data []T
}

// New returns a zeroed rows x cols Buffer.
func New[T slab.Number](rows, cols int) *Buffer[T] {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("Internal error: hbuf.New() called with shape " +
			"(%d, %d).", rows, cols))
	}
	return &Buffer[T]{ rows, cols, make([]T, rows*cols) }
}

// FromSlice wraps a row-major array in a Buffer without copying it.
func FromSlice[T slab.Number](rows, cols int, data []T) (*Buffer[T], error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("A (%d, %d) histogram needs %d elements, " +
			"but was given %d.", rows, cols, rows*cols, len(data))
	}
	return &Buffer[T]{ rows, cols, data }, nil
}

func (b *Buffer[T]) Rows() int { return b.rows }
func (b *Buffer[T]) Cols() int { return b.cols }

// Data returns the underlying row-major array.
func (b *Buffer[T]) Data() []T { return b.data }

func (b *Buffer[T]) At(i, j int) T { return b.data[i*b.cols + j] }
func (b *Buffer[T]) Set(i, j int, x T) { b.data[i*b.cols + j] = x }
func (b *Buffer[T]) Add(i, j int, x T) { b.data[i*b.cols + j] += x }

// Total returns the sum of all the elements in the buffer.
func (b *Buffer[T]) Total() T {
	var sum T
	for _, x := range b.data { sum += x }
	return sum
}

// Bytes returns the buffer's data in little-endian order.
func (b *Buffer[T]) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(b.data)*slab.TypeOf[T]().Size()))
	binary.Write(buf, binary.LittleEndian, b.data)
	return buf.Bytes()
}

func (b *Buffer[T]) readBytes(data []byte) error {
	if len(data) != len(b.data)*slab.TypeOf[T]().Size() {
		return fmt.Errorf("Received %d bytes for a (%d, %d) histogram of " +
			"%v values.", len(data), b.rows, b.cols, slab.TypeOf[T]())
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, b.data)
}

// Dense returns a copy of the buffer as a gonum matrix.
func (b *Buffer[T]) Dense() *mat.Dense {
	if b.rows == 0 || b.cols == 0 { return &mat.Dense{ } }
	x := make([]float64, len(b.data))
	for i := range x { x[i] = float64(b.data[i]) }
	return mat.NewDense(b.rows, b.cols, x)
}

// FromDense copies a gonum matrix into a float64 Buffer.
func FromDense(m mat.Matrix) *Buffer[float64] {
	rows, cols := m.Dims()
	b := New[float64](rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			b.Set(i, j, m.At(i, j))
		}
	}
	return b
}

// ReduceSum sums the buffers of every rank in comm into a single buffer on
// root. Every rank must pass a buffer with the same shape. Non-root ranks get
// nil.
func ReduceSum[T slab.Number](
	comm mpi.Comm, b *Buffer[T], root int,
) (*Buffer[T], error) {
	all, err := comm.Gather(b.Bytes(), root)
	if err != nil { return nil, err }
	if comm.Rank() != root { return nil, nil }

	sum := New[T](b.rows, b.cols)
	tmp := New[T](b.rows, b.cols)
	for rank := range all {
		if err := tmp.readBytes(all[rank]); err != nil {
			return nil, fmt.Errorf("rank %d: %w", rank, err)
		}
		for i := range sum.data { sum.data[i] += tmp.data[i] }
	}
	return sum, nil
}
