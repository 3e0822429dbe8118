package mpi

/* world.go implements Comm for ranks which are goroutines in the same
process. Every collective call is built on top of a single operation,
exchange, where each rank deposits a buffer and waits until all ranks have
done the same. */

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// job is shared by a World and every communicator split off from it. It
// holds the abort state.
type job struct {
	mu sync.Mutex
	cause error
	worlds []*World
}

func (j *job) register(w *World) {
	j.mu.Lock()
	j.worlds = append(j.worlds, w)
	j.mu.Unlock()
}

func (j *job) unregister(w *World) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.worlds {
		if j.worlds[i] == w {
			j.worlds = append(j.worlds[:i], j.worlds[i+1:]...)
			return
		}
	}
}

// Cause returns the error passed to the first call to Abort, or nil.
func (j *job) Cause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cause
}

func (j *job) err() error {
	cause := j.Cause()
	if cause == nil { return nil }
	return fmt.Errorf("%w: %v", ErrAborted, cause)
}

func (j *job) abort(cause error) {
	if cause == nil { cause = fmt.Errorf("Abort called with a nil error") }

	j.mu.Lock()
	if j.cause == nil { j.cause = cause }
	worlds := append([]*World{ }, j.worlds...)
	j.mu.Unlock()

	// j.mu can't be held here: exchange locks World.mu and then job.mu.
	for _, w := range worlds {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

// World is a set of in-process ranks. Create one with NewWorld, hand each
// goroutine its own Comm with World.Comm, or just use Run.
type World struct {
	n int
	job *job

	mu sync.Mutex
	cond *sync.Cond
	gen, arrived int
	slots, result [][]byte
	subs map[splitKey]*World

	// parent and key locate a split World in its parent's subs. parent is
	// nil for a World made by NewWorld.
	parent *World
	key splitKey
	freed int
}

type splitKey struct {
	seq, color int
}

// NewWorld creates a World with n ranks.
func NewWorld(n int) *World {
	return newWorld(n, &job{ })
}

func newWorld(n int, j *job) *World {
	if n <= 0 {
		panic(fmt.Sprintf("Internal error: World created with %d ranks.", n))
	}
	w := &World{
		n: n, job: j, slots: make([][]byte, n),
		subs: map[splitKey]*World{ },
	}
	w.cond = sync.NewCond(&w.mu)
	j.register(w)
	return w
}

// Size returns the number of ranks in the World.
func (w *World) Size() int { return w.n }

// Comm returns the communicator used by a given rank. Each rank's Comm
// should only be used by a single goroutine.
func (w *World) Comm(rank int) Comm {
	if rank < 0 || rank >= w.n {
		panic(fmt.Sprintf("Internal error: rank %d requested from a World " +
			"with %d ranks.", rank, w.n))
	}
	return &worldComm{ w: w, rank: rank }
}

// Cause returns the error that aborted the World, or nil if it wasn't
// aborted.
func (w *World) Cause() error { return w.job.Cause() }

// Live returns the number of communicators in the World's job which haven't
// been freed, including the World itself. Not collective.
func (w *World) Live() int {
	w.job.mu.Lock()
	defer w.job.mu.Unlock()
	return len(w.job.worlds)
}

// exchange deposits data from rank and blocks until every rank in the World
// has deposited something. It returns everything which was deposited, indexed
// by rank. The returned arrays are shared between ranks and must not be
// modified.
func (w *World) exchange(rank int, data []byte) ([][]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.job.err(); err != nil { return nil, err }

	gen := w.gen
	w.slots[rank] = data
	w.arrived++

	if w.arrived == w.n {
		w.result, w.slots = w.slots, make([][]byte, w.n)
		w.arrived = 0
		w.gen++
		w.cond.Broadcast()
		return w.result, nil
	}

	// The next generation can't finish without this rank, so w.result is
	// still ours once gen changes.
	for w.gen == gen {
		if err := w.job.err(); err != nil { return nil, err }
		w.cond.Wait()
	}
	return w.result, nil
}

// sub returns the World for a given Split call and color, creating it if
// this is the first member to ask.
func (w *World) sub(seq, color, n int) *World {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := splitKey{ seq, color }
	s, ok := w.subs[key]
	if !ok {
		s = newWorld(n, w.job)
		s.parent, s.key = w, key
		w.subs[key] = s
	}
	return s
}

// release counts one member's call to Free and drops the World from its
// parent and job once every member has freed it.
func (w *World) release() {
	w.mu.Lock()
	w.freed++
	done := w.freed == w.n
	w.mu.Unlock()
	if !done { return }

	w.parent.mu.Lock()
	delete(w.parent.subs, w.key)
	w.parent.mu.Unlock()
	w.job.unregister(w)
}

// worldComm implements the Comm interface for World. See the Comm interface
// for method documentation.
type worldComm struct {
	w *World
	rank int
	nSplit int
	freed bool
}

var _ Comm = &worldComm{ }

func (c *worldComm) Size() int { return c.w.n }
func (c *worldComm) Rank() int { return c.rank }

func (c *worldComm) Barrier() error {
	_, err := c.w.exchange(c.rank, nil)
	return err
}

func (c *worldComm) Allgather(send []byte) ([][]byte, error) {
	all, err := c.w.exchange(c.rank, send)
	if err != nil { return nil, err }
	return copyAll(all), nil
}

func (c *worldComm) Gather(send []byte, root int) ([][]byte, error) {
	if err := c.checkRoot(root); err != nil { return nil, err }
	all, err := c.w.exchange(c.rank, send)
	if err != nil { return nil, err }
	if c.rank != root { return nil, nil }
	return copyAll(all), nil
}

func (c *worldComm) Bcast(buf []byte, root int) ([]byte, error) {
	if err := c.checkRoot(root); err != nil { return nil, err }
	if c.rank != root { buf = nil }
	all, err := c.w.exchange(c.rank, buf)
	if err != nil { return nil, err }
	return append([]byte{ }, all[root]...), nil
}

func (c *worldComm) Split(color, key int) (Comm, error) {
	if color < 0 && color != Undefined {
		return nil, fmt.Errorf("Split color must be non-negative or " +
			"Undefined, not %d.", color)
	}

	rec := make([]byte, 16)
	binary.LittleEndian.PutUint64(rec[0:], uint64(int64(color)))
	binary.LittleEndian.PutUint64(rec[8:], uint64(int64(key)))

	all, err := c.w.exchange(c.rank, rec)
	if err != nil { return nil, err }

	seq := c.nSplit
	c.nSplit++
	if color == Undefined { return nil, nil }

	type member struct { rank, key int }
	members := []member{ }
	for rank, b := range all {
		col := int(int64(binary.LittleEndian.Uint64(b[0:])))
		if col != color { continue }
		k := int(int64(binary.LittleEndian.Uint64(b[8:])))
		members = append(members, member{ rank, k })
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].key != members[j].key {
			return members[i].key < members[j].key
		}
		return members[i].rank < members[j].rank
	})

	newRank := -1
	for i := range members {
		if members[i].rank == c.rank { newRank = i }
	}

	return &worldComm{ w: c.w.sub(seq, color, len(members)), rank: newRank }, nil
}

func (c *worldComm) Free() error {
	if c.w.parent == nil {
		return fmt.Errorf("The world communicator can't be freed.")
	} else if c.freed {
		return fmt.Errorf("Communicator freed twice by rank %d.", c.rank)
	}
	// Every member has looked up the World once the barrier completes, so
	// it's safe to remove it from the parent.
	if err := c.Barrier(); err != nil { return err }
	c.freed = true
	c.w.release()
	return nil
}

func (c *worldComm) Abort(err error) { c.w.job.abort(err) }

func (c *worldComm) checkRoot(root int) error {
	if root < 0 || root >= c.w.n {
		return fmt.Errorf("root rank %d is outside a communicator of " +
			"size %d.", root, c.w.n)
	}
	return nil
}

func copyAll(all [][]byte) [][]byte {
	out := make([][]byte, len(all))
	for i := range all {
		out[i] = append([]byte{ }, all[i]...)
	}
	return out
}

// Run runs f on n in-process ranks and waits for all of them to return. If
// any rank returns an error, the World is aborted so the other ranks don't
// block forever, and the first error is returned.
func Run(n int, f func(c Comm) error) error {
	w := NewWorld(n)
	g := new(errgroup.Group)
	for rank := 0; rank < n; rank++ {
		c := w.Comm(rank)
		g.Go(func() error {
			err := f(c)
			if err != nil { c.Abort(err) }
			return err
		})
	}

	err := g.Wait()
	if cause := w.Cause(); cause != nil { return cause }
	return err
}
