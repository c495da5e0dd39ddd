package engine

import (
	"errors"
	"math/rand/v2"
	"slices"
)

// Random is the only source of chance available to rule code. Every method
// is derived from a single stream of floats in [0, 1), so recording that
// stream is enough to replay a command exactly.
type Random interface {
	// Float returns a value in [0, 1).
	Float() float64
	// D returns a die roll in [1, max].
	D(max int) int
	// Range returns a value in [min, max].
	Range(min, max int) int
	// Shuffle permutes n elements with Fisher-Yates.
	Shuffle(n int, swap func(i, j int))
}

// ErrRandomExhausted is raised when a replayed sequence runs out of draws.
var ErrRandomExhausted = errors.New("random sequence exhausted")

type floatSource struct {
	next func() float64
}

// FromFunc builds a Random on top of a float source.
func FromFunc(next func() float64) Random { return &floatSource{next: next} }

func (s *floatSource) Float() float64 { return s.next() }

func (s *floatSource) D(max int) int {
	if max <= 0 {
		return 0
	}
	return scale(s.next(), max) + 1
}

func (s *floatSource) Range(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return min + scale(s.next(), max-min+1)
}

func (s *floatSource) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, scale(s.next(), i+1))
	}
}

func scale(f float64, n int) int {
	v := int(f * float64(n))
	if v >= n {
		v = n - 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// NewSeeded returns a PCG-backed Random. The same (seed, stream) pair always
// yields the same draws.
func NewSeeded(seed, stream uint64) Random {
	r := rand.New(rand.NewPCG(seed, stream))
	return FromFunc(r.Float64)
}

// Recorder is a seeded Random that keeps every raw draw.
type Recorder struct {
	Random
	draws []float64
}

// NewRecorder returns a recording seeded Random.
func NewRecorder(seed, stream uint64) *Recorder {
	rec := &Recorder{}
	r := rand.New(rand.NewPCG(seed, stream))
	rec.Random = FromFunc(func() float64 {
		v := r.Float64()
		rec.draws = append(rec.draws, v)
		return v
	})
	return rec
}

// Draws returns a copy of the recorded raw draws.
func (r *Recorder) Draws() []float64 { return slices.Clone(r.draws) }

// Sequence replays recorded draws in order. Reading past the end panics with
// ErrRandomExhausted.
func Sequence(draws []float64) Random {
	values := slices.Clone(draws)
	i := 0
	return FromFunc(func() float64 {
		if i >= len(values) {
			panic(ErrRandomExhausted)
		}
		v := values[i]
		i++
		return v
	})
}

const (
	PolicyFixed    = "fixed"
	PolicySequence = "sequence"
)

// RandomPolicy scripts die results, e.g. for tutorials. Fixed mode always
// yields Values[0]; sequence mode walks Values from Cursor and wraps.
type RandomPolicy struct {
	Mode   string `json:"mode"`
	Values []int  `json:"values"`
	Cursor int    `json:"cursor,omitempty"`
}

// PolicyRandom overrides D and Range with scripted values. Float and Shuffle
// fall through to the base source.
type PolicyRandom struct {
	base     Random
	policy   RandomPolicy
	consumed int
}

// WithPolicy wraps base with p. A nil or empty policy returns base unchanged.
func WithPolicy(base Random, p *RandomPolicy) Random {
	if p == nil || len(p.Values) == 0 {
		return base
	}
	return &PolicyRandom{base: base, policy: *p}
}

// Cursor returns the sequence position after the draws taken so far.
func (r *PolicyRandom) Cursor() int {
	if r.policy.Mode != PolicySequence {
		return r.policy.Cursor
	}
	return r.policy.Cursor + r.consumed
}

func (r *PolicyRandom) Float() float64                     { return r.base.Float() }
func (r *PolicyRandom) Shuffle(n int, swap func(i, j int)) { r.base.Shuffle(n, swap) }

func (r *PolicyRandom) D(max int) int {
	if max <= 0 {
		return 0
	}
	return r.consume(max)
}

func (r *PolicyRandom) Range(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return min + r.consume(max-min+1) - 1
}

func (r *PolicyRandom) consume(max int) int {
	values := r.policy.Values
	if r.policy.Mode != PolicySequence {
		return normalizeFace(values[0], max)
	}
	idx := (r.policy.Cursor + r.consumed) % len(values)
	r.consumed++
	return normalizeFace(values[idx], max)
}

func normalizeFace(v, max int) int {
	if v <= 0 {
		return 1
	}
	if v > max {
		return (v-1)%max + 1
	}
	return v
}
