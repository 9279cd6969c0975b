package scheduler

import (
	"fmt"
	"math/rand/v2"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// Policy chooses the transcript index whose message is mutated next.
type Policy interface {
	Next() int
}

// Observer is implemented by policies that adapt to how many trials an index produced.
type Observer interface {
	Observe(index, trials int)
}

// Kind names a selection policy.
type Kind string

const (
	KindRoundRobin Kind = "round_robin"
	KindWeighted   Kind = "weighted"
	KindLength     Kind = "length"
	KindUniform    Kind = "uniform"
)

// NewPolicy builds the policy of the given kind over tr. A pin greater than zero
// wraps it in Pinned.
func NewPolicy(kind Kind, tr domain.Transcript, pin int, rng *rand.Rand) (Policy, error) {
	if tr.Len() == 0 {
		return nil, fmt.Errorf("%w: no states to select from", domain.ErrTranscript)
	}

	var p Policy
	switch kind {
	case KindRoundRobin, "":
		p = &RoundRobin{n: tr.Len()}
	case KindWeighted:
		p = NewWeighted(FrequencyWeights(tr), rng)
	case KindLength:
		p = NewWeighted(LengthWeights(tr), rng)
	case KindUniform:
		p = &Uniform{n: tr.Len(), rng: rng}
	default:
		return nil, fmt.Errorf("unknown policy %q", kind)
	}

	if pin > 0 {
		p = &Pinned{inner: p, per: pin}
	}
	return p, nil
}

// RoundRobin visits every index in order, forever.
type RoundRobin struct {
	n    int
	next int
}

func (r *RoundRobin) Next() int {
	i := r.next
	r.next = (r.next + 1) % r.n
	return i
}

// Uniform picks any index with equal probability.
type Uniform struct {
	n   int
	rng *rand.Rand
}

func (u *Uniform) Next() int {
	return u.rng.IntN(u.n)
}

// Weighted picks index i with probability weights[i] / sum(weights).
type Weighted struct {
	cumulative []float64
	rng        *rand.Rand
}

// NewWeighted builds a weighted policy. Non-positive weights are never picked
// unless every weight is non-positive, in which case picks are uniform.
func NewWeighted(weights []float64, rng *rand.Rand) *Weighted {
	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w > 0 {
			total += w
		}
		cum[i] = total
	}
	if total == 0 {
		for i := range cum {
			cum[i] = float64(i + 1)
		}
	}
	return &Weighted{cumulative: cum, rng: rng}
}

func (w *Weighted) Next() int {
	total := w.cumulative[len(w.cumulative)-1]
	x := w.rng.Float64() * total
	for i, c := range w.cumulative {
		if x < c {
			return i
		}
	}
	return len(w.cumulative) - 1
}

// FrequencyWeights draws each distinct state with probability count/total. The
// whole count goes to the state's first occurrence, which is where it is injected;
// later occurrences weigh zero.
func FrequencyWeights(tr domain.Transcript) []float64 {
	first := make(map[string]int)
	weights := make([]float64, tr.Len())
	for i, t := range tr {
		j, seen := first[t.State]
		if !seen {
			first[t.State] = i
			j = i
		}
		weights[j]++
	}
	return weights
}

// LengthWeights weights each index by the length of its state name.
func LengthWeights(tr domain.Transcript) []float64 {
	weights := make([]float64, tr.Len())
	for i, t := range tr {
		weights[i] = float64(len(t.State))
	}
	return weights
}

// Pinned keeps returning the same index for a number of trials before asking
// the wrapped policy again.
type Pinned struct {
	inner   Policy
	per     int
	current int
	left    int
}

// NewPinned wraps p so each chosen index stays selected for per trials.
func NewPinned(p Policy, per int) *Pinned {
	return &Pinned{inner: p, per: per}
}

func (p *Pinned) Next() int {
	if p.left <= 0 {
		p.current = p.inner.Next()
		p.left = p.per
	}
	return p.current
}

// Observe spends the pin by the trials run; an index that produced none is dropped.
func (p *Pinned) Observe(index, trials int) {
	if index != p.current {
		return
	}
	if trials == 0 {
		p.left = 0
		return
	}
	p.left -= trials
}
