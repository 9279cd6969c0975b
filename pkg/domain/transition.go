package domain

import (
	"encoding/json"
	"fmt"
)

// Transition is one recorded step of a conversation: the client state that was sent
// and a marker describing the response the server gave to it.
type Transition struct {
	State  string
	Expect string
}

// UnmarshalJSON decodes the on-disk form, a two element array [state, expect].
func (t *Transition) UnmarshalJSON(data []byte) error {
	var pair []*string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: transition must be an array: %v", ErrTranscript, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: transition must have 2 elements, got %d", ErrTranscript, len(pair))
	}
	if pair[0] == nil || *pair[0] == "" {
		return fmt.Errorf("%w: transition state is empty", ErrTranscript)
	}
	t.State = *pair[0]
	t.Expect = ""
	if pair[1] != nil {
		t.Expect = *pair[1]
	}
	return nil
}

// MarshalJSON encodes the transition back to its array form.
func (t Transition) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.State, t.Expect})
}

// Transcript is an ordered conversation. Index i is the i-th injection point.
type Transcript []Transition

// Len returns the number of injection points.
func (tr Transcript) Len() int {
	return len(tr)
}

// IndexOf returns the first index of state, or -1.
func (tr Transcript) IndexOf(state string) int {
	for i, t := range tr {
		if t.State == state {
			return i
		}
	}
	return -1
}

// States returns the state names in conversation order (duplicates included).
func (tr Transcript) States() []string {
	out := make([]string, len(tr))
	for i, t := range tr {
		out[i] = t.State
	}
	return out
}

// NewTranscript builds a transcript from [state, expect] pairs.
func NewTranscript(pairs ...[2]string) Transcript {
	tr := make(Transcript, len(pairs))
	for i, p := range pairs {
		tr[i] = Transition{State: p[0], Expect: p[1]}
	}
	return tr
}
