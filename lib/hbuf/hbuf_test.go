package hbuf

import (
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/phil-mansfield/phasedump/lib/eq"
	"github.com/phil-mansfield/phasedump/lib/mpi"
)

func TestBuffer(t *testing.T) {
	b := New[float32](3, 4)
	if b.Rows() != 3 || b.Cols() != 4 || len(b.Data()) != 12 {
		t.Fatalf("Expected a (3, 4) buffer, got (%d, %d) with %d elements.",
			b.Rows(), b.Cols(), len(b.Data()))
	}

	b.Set(1, 2, 5)
	b.Add(1, 2, 2)
	b.Add(2, 3, 1)
	if b.At(1, 2) != 7 || b.Data()[6] != 7 {
		t.Errorf("Expected element (1, 2) = 7, got %g.", b.At(1, 2))
	}
	if b.Total() != 8 {
		t.Errorf("Expected a total of 8, got %g.", b.Total())
	}

	if _, err := FromSlice(2, 2, []int64{ 1, 2, 3 }); err == nil {
		t.Errorf("Expected FromSlice to reject 3 elements for a (2, 2) buffer.")
	}
}

func TestDense(t *testing.T) {
	b, err := FromSlice(2, 3, []uint32{ 1, 2, 3, 4, 5, 6 })
	if err != nil { t.Fatal(err.Error()) }

	m := b.Dense()
	exp := mat.NewDense(2, 3, []float64{ 1, 2, 3, 4, 5, 6 })
	if !mat.Equal(m, exp) {
		t.Errorf("Expected %v, got %v.", mat.Formatted(exp), mat.Formatted(m))
	}

	b2 := FromDense(m.T())
	if b2.Rows() != 3 || b2.Cols() != 2 || b2.At(2, 1) != 6 ||
		b2.At(0, 1) != 4 {
		t.Errorf("Expected the transpose of %v, got %v.",
			mat.Formatted(exp), b2.Data())
	}
}

func TestReduceSum(t *testing.T) {
	n := 5
	var out *Buffer[int64]
	mu := &sync.Mutex{ }

	err := mpi.Run(n, func(c mpi.Comm) error {
		b := New[int64](2, 2)
		for i := range b.Data() { b.Data()[i] = int64(c.Rank()*(i + 1)) }

		sum, err := ReduceSum(c, b, 3)
		if err != nil { return err }
		if (sum != nil) != (c.Rank() == 3) {
			t.Errorf("Rank %d) Expected only the root to get a sum.",
				c.Rank())
		}
		if sum != nil {
			mu.Lock()
			out = sum
			mu.Unlock()
		}
		return nil
	})
	if err != nil { t.Fatal(err.Error()) }

	// 0 + 1 + 2 + 3 + 4 = 10
	exp := []int64{ 10, 20, 30, 40 }
	if out == nil || !eq.Slices(out.Data(), exp) {
		t.Errorf("Expected %v, got %v.", exp, out)
	}
}
