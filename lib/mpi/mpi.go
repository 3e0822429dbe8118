//go:build mpi
// +build mpi

package mpi

// This header is almost the same as the one used by
// github.com/marcusthierfelder/mpi with some minor changes as well as a
// changes to the way that compilation is done. I'd import this package like
// normal, but these changes impact the underlying type system and compilation
// instructions, so that's not possible. As such, here is his license:
//
// Copyright (c) 2017 Marcus Thierfelder
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// NOTE: Use
// $ mpicc --showme:compile
// $ mpicc --showme:link
// To figure out CFLAGS and LDFLAGS, respectively

/*
#cgo LDFLAGS: -pthread -L/usr/lib/x86_64-linux-gnu/openmpi/lib -lmpi
#cgo CFLAGS: -std=gnu99 -Wall -I/usr/lib/x86_64-linux-gnu/openmpi/include/openmpi -I/usr/lib/x86_64-linux-gnu/openmpi/include -pthread
#include <mpi.h>
#include <stdlib.h>

MPI_Comm get_MPI_COMM_WORLD() {
    return (MPI_Comm)(MPI_COMM_WORLD);
}

MPI_Datatype get_MPI_Datatype(int i) {
    switch(i) {
    case 0: return (MPI_Datatype)MPI_INT;
    case 1: return (MPI_Datatype)MPI_LONG_LONG;
    case 2: return (MPI_Datatype)MPI_BYTE;
    }
    return NULL;
}

int get_MPI_UNDEFINED() {
    return MPI_UNDEFINED;
}
*/
import "C"

import (
	"fmt"

	"unsafe"
)

var (
	commWorld C.MPI_Comm = C.get_MPI_COMM_WORLD()

	mpiInt C.MPI_Datatype = C.get_MPI_Datatype(0)
	mpiInt64 C.MPI_Datatype = C.get_MPI_Datatype(1)
	mpiByte C.MPI_Datatype = C.get_MPI_Datatype(2)
)

// Init initializes the MPI library. It must be called before any other
// function in this file.
func Init() error {
	return processError(C.MPI_Init(nil, nil), "MPI_Init")
}

// Finalize shuts down the MPI library.
func Finalize() error {
	return processError(C.MPI_Finalize(), "MPI_Finalize")
}

// CommWorld returns MPI_COMM_WORLD.
func CommWorld() Comm { return &cComm{ commWorld } }

// processError converts an MPI error code into a Go error.
func processError(err C.int, name string) error {
	if err == 0 { return nil }

	buf := make([]C.char, C.MPI_MAX_ERROR_STRING)
	n := C.int(0)
	C.MPI_Error_string(err, &buf[0], &n)
	return fmt.Errorf("%s failed: %s", name, C.GoString(&buf[0]))
}

// cComm implements the Comm interface through the system MPI library. See the
// Comm interface for method documentation.
type cComm struct {
	c C.MPI_Comm
}

var _ Comm = &cComm{ }

func (c *cComm) Size() int {
	n := C.int(-1)
	C.MPI_Comm_size(c.c, &n)
	return int(n)
}

func (c *cComm) Rank() int {
	n := C.int(-1)
	C.MPI_Comm_rank(c.c, &n)
	return int(n)
}

func (c *cComm) Barrier() error {
	return processError(C.MPI_Barrier(c.c), "MPI_Barrier")
}

// Converting between Go and C pointers is way easier if arrays are never
// empty. It doesn't have any impact on correctness since the counts are still
// zero.
func nonEmpty(b []byte) []byte {
	if len(b) == 0 { return []byte{ 0 } }
	return b
}

// displacements converts per-rank counts into displacements and returns the
// total count.
func displacements(counts []C.int) ([]C.int, int) {
	displs := make([]C.int, len(counts))
	total := 0
	for i := range counts {
		displs[i] = C.int(total)
		total += int(counts[i])
	}
	return displs, total
}

func splitRecv(recv []byte, counts, displs []C.int) [][]byte {
	out := make([][]byte, len(counts))
	for i := range counts {
		start := int(displs[i])
		out[i] = append([]byte{ }, recv[start: start + int(counts[i])]...)
	}
	return out
}

func (c *cComm) Allgather(send []byte) ([][]byte, error) {
	n := C.int(len(send))
	counts := make([]C.int, c.Size())
	err := C.MPI_Allgather(unsafe.Pointer(&n), 1, mpiInt,
		unsafe.Pointer(&counts[0]), 1, mpiInt, c.c)
	if e := processError(err, "MPI_Allgather"); e != nil { return nil, e }

	displs, total := displacements(counts)
	send, recv := nonEmpty(send), nonEmpty(make([]byte, total))
	err = C.MPI_Allgatherv(unsafe.Pointer(&send[0]), n, mpiByte,
		unsafe.Pointer(&recv[0]), &counts[0], &displs[0], mpiByte, c.c)
	if e := processError(err, "MPI_Allgatherv"); e != nil { return nil, e }

	return splitRecv(recv, counts, displs), nil
}

func (c *cComm) Gather(send []byte, root int) ([][]byte, error) {
	n := C.int(len(send))
	counts := make([]C.int, c.Size())
	err := C.MPI_Gather(unsafe.Pointer(&n), 1, mpiInt,
		unsafe.Pointer(&counts[0]), 1, mpiInt, C.int(root), c.c)
	if e := processError(err, "MPI_Gather"); e != nil { return nil, e }

	// Receive arguments are only significant at the root, but the arrays
	// still need to be valid pointers everywhere.
	displs, total := displacements(counts)
	send, recv := nonEmpty(send), nonEmpty(make([]byte, total))
	err = C.MPI_Gatherv(unsafe.Pointer(&send[0]), n, mpiByte,
		unsafe.Pointer(&recv[0]), &counts[0], &displs[0], mpiByte,
		C.int(root), c.c)
	if e := processError(err, "MPI_Gatherv"); e != nil { return nil, e }

	if c.Rank() != root { return nil, nil }
	return splitRecv(recv, counts, displs), nil
}

func (c *cComm) Bcast(buf []byte, root int) ([]byte, error) {
	n := C.longlong(len(buf))
	err := C.MPI_Bcast(unsafe.Pointer(&n), 1, mpiInt64, C.int(root), c.c)
	if e := processError(err, "MPI_Bcast"); e != nil { return nil, e }

	out := make([]byte, int(n))
	if c.Rank() == root { copy(out, buf) }
	b := nonEmpty(out)
	err = C.MPI_Bcast(unsafe.Pointer(&b[0]), C.int(n), mpiByte,
		C.int(root), c.c)
	if e := processError(err, "MPI_Bcast"); e != nil { return nil, e }

	return out, nil
}

func (c *cComm) Split(color, key int) (Comm, error) {
	cColor := C.int(color)
	if color == Undefined { cColor = C.get_MPI_UNDEFINED() }

	var out C.MPI_Comm
	err := C.MPI_Comm_split(c.c, cColor, C.int(key), &out)
	if e := processError(err, "MPI_Comm_split"); e != nil { return nil, e }

	if color == Undefined { return nil, nil }
	return &cComm{ out }, nil
}

func (c *cComm) Free() error {
	if c.c == commWorld {
		return fmt.Errorf("MPI_COMM_WORLD can't be freed.")
	}
	return processError(C.MPI_Comm_free(&c.c), "MPI_Comm_free")
}

func (c *cComm) Abort(err error) {
	if err != nil { fmt.Println("MPI_Abort:", err.Error()) }
	C.MPI_Abort(c.c, 1)
}
