package particles

import (
	"math"
)

var (
	xorshiftMaxUint = float64(math.MaxUint32)
)

// RNG is an xorshift random number generator. It is the same as gotetra's
// xorshiftGenerator. It is not thread safe.
type RNG struct {
	w, x, y, z uint32
}

// NewRNG creates an RNG with a given seed. Both halves of the seed are used.
func NewRNG(seed uint64) *RNG {
	return &RNG{ uint32(seed) ^ uint32(seed >> 32), 123456789, 362436069,
		521288629 }
}

// Seed combines a base seed with a step and a rank, so every rank gets its
// own stream at every step.
func Seed(base uint64, step, rank int) uint64 {
	x := base ^ uint64(step)*0x9e3779b97f4a7c15 ^ uint64(rank)*0xbf58476d1ce4e5b9
	x ^= x >> 31
	return x*0x94d049bb133111eb
}

// Uniform generates a single random number in the range [0, 1)
func (gen *RNG) Uniform() float64 {
	t := gen.x ^ (gen.x << 11)
	gen.x, gen.y, gen.z = gen.y, gen.z, gen.w
	gen.w = gen.w ^ (gen.w >> 19) ^ (t ^ (t >> 8))
	res := float64(math.MaxUint32 - gen.w) / xorshiftMaxUint
	if res == 1.0 { return gen.Uniform() }
	return res
}

// Normal generates an approximately normal random number with zero mean and
// unit variance by summing twelve uniform numbers.
func (gen *RNG) Normal() float64 {
	sum := 0.0
	for i := 0; i < 12; i++ { sum += gen.Uniform() }
	return sum - 6
}
