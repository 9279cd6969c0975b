package scheduler

import (
	"fmt"
	"math/rand/v2"
)

// Picker chooses which unconsumed candidates of a pair run in this iteration.
type Picker interface {
	Pick(candidates []string, limit int) []string
}

// PickerKind names a picker.
type PickerKind string

const (
	PickerBatch  PickerKind = "batch"
	PickerRandom PickerKind = "random"
)

// NewPicker builds a picker. An empty kind picks batch for round robin and random otherwise.
func NewPicker(kind PickerKind, policy Kind, rng *rand.Rand) (Picker, error) {
	if kind == "" {
		kind = PickerRandom
		if policy == KindRoundRobin || policy == "" {
			kind = PickerBatch
		}
	}
	switch kind {
	case PickerBatch:
		return Batch{}, nil
	case PickerRandom:
		return &Random{rng: rng}, nil
	}
	return nil, fmt.Errorf("unknown picker %q", kind)
}

// Batch takes candidates in listing order, up to the limit.
type Batch struct{}

func (Batch) Pick(candidates []string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	if len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}

// Random takes a single random candidate.
type Random struct {
	rng *rand.Rand
}

func (r *Random) Pick(candidates []string, limit int) []string {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}
	return []string{candidates[r.rng.IntN(len(candidates))]}
}
