package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// PairKey identifies a (state, media variant) pair. Trial quotas are tracked per pair.
type PairKey struct {
	State string `json:"state"`
	Media string `json:"media,omitempty"`
}

func (k PairKey) String() string {
	if k.Media == "" {
		return k.State
	}
	return k.State + "/" + k.Media
}

// Trial is one scheduled attempt: inject the mutation file at Path in place of the
// transcript message at Index.
type Trial struct {
	Index int
	State string
	Media string
	Path  string
}

// ID is the mutation file name without its extension.
func (t Trial) ID() string {
	base := filepath.Base(t.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Label is the name coverage artifacts of this trial are archived under.
func (t Trial) Label() string {
	return t.ID()
}

// Key returns the quota pair of the trial.
func (t Trial) Key() PairKey {
	return PairKey{State: t.State, Media: t.Media}
}

// Outcome classifies how a trial ended. Every outcome consumes the trial.
type Outcome string

const (
	OutcomeCompleted            Outcome = "completed"
	OutcomeNoResponseToMutation Outcome = "no_response_to_mutation"
	OutcomeStartFailure         Outcome = "start_failure"
	OutcomeConnectionError      Outcome = "connection_error"
	OutcomeMissingMutationFile  Outcome = "missing_mutation_file"
	OutcomeLockUnavailable      Outcome = "lock_unavailable"
	OutcomeAborted              Outcome = "aborted"
)

// Phase tells which part of the conversation a message belongs to.
type Phase string

const (
	PhasePrefix   Phase = "prefix"
	PhaseMutation Phase = "mutation"
	PhaseSuffix   Phase = "suffix"
	PhaseBaseline Phase = "baseline"
	PhaseClosing  Phase = "closing"
)

// SentMessage records one transmitted message and what came back.
type SentMessage struct {
	Index     int
	State     string
	Phase     Phase
	CSeq      int
	Token     string
	Payload   []byte
	Response  []byte
	Responded bool
}

// TrialResult is the full account of one trial.
type TrialResult struct {
	Trial     Trial
	Outcome   Outcome
	Sent      []SentMessage
	Skipped   []string
	Session   SessionState
	Desyncs   int
	Coverage  string
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// MessagesSent returns the number of messages actually transmitted.
func (r TrialResult) MessagesSent() int {
	return len(r.Sent)
}

// Record converts the result to its persisted form.
func (r TrialResult) Record() TrialRecord {
	rec := TrialRecord{
		Path:     r.Trial.Path,
		Pair:     r.Trial.Key(),
		Outcome:  r.Outcome,
		Coverage: r.Coverage,
		At:       r.StartedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// TrialRecord is what ledgers persist about a consumed trial.
type TrialRecord struct {
	Path     string    `json:"path"`
	Pair     PairKey   `json:"pair"`
	Outcome  Outcome   `json:"outcome"`
	Coverage string    `json:"coverage,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// RunStats summarizes the trials recorded so far.
type RunStats struct {
	Trials    int             `json:"trials"`
	ByOutcome map[Outcome]int `json:"by_outcome"`
	ByPair    map[string]int  `json:"by_pair"`
	Coverage  int             `json:"coverage"`
}

// NewRunStats returns empty stats with initialized maps.
func NewRunStats() RunStats {
	return RunStats{
		ByOutcome: make(map[Outcome]int),
		ByPair:    make(map[string]int),
	}
}

// Add folds one record into the stats.
func (s *RunStats) Add(rec TrialRecord) {
	s.Trials++
	s.ByOutcome[rec.Outcome]++
	s.ByPair[rec.Pair.String()]++
	if rec.Coverage != "" {
		s.Coverage++
	}
}
