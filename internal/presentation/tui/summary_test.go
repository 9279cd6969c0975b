package tui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
)

func TestRunSummary(t *testing.T) {
	stats := domain.NewRunStats()
	stats.Add(domain.TrialRecord{Pair: domain.PairKey{State: "SETUP", Media: "mp3"}, Outcome: domain.OutcomeCompleted, Coverage: "c"})
	stats.Add(domain.TrialRecord{Pair: domain.PairKey{State: "PLAY"}, Outcome: domain.OutcomeStartFailure})

	md := RunSummary(scheduler.Report{
		RunID:      "abc",
		Elapsed:    1500 * time.Millisecond,
		Stats:      stats,
		StopReason: scheduler.StopTrials,
		Remaining:  []scheduler.Remaining{{Pair: domain.PairKey{State: "PLAY"}, Files: 4}},
	})

	assert.Contains(t, md, "# Run abc")
	assert.Contains(t, md, "**Trials:** 2")
	assert.Contains(t, md, "| completed | 1 |")
	assert.Contains(t, md, "| SETUP/mp3 | 1 |")
	assert.Contains(t, md, "| PLAY | 4 |")
	assert.Contains(t, md, scheduler.StopTrials)
}

func TestTrialSummary(t *testing.T) {
	res := domain.TrialResult{
		Trial:   domain.Trial{Index: 1, State: "SETUP", Path: "mutations/SETUP/m7.raw"},
		Outcome: domain.OutcomeNoResponseToMutation,
		Err:     errors.New("peer reset"),
		Session: domain.SessionState{CSeq: 3, Token: "5A3F9C21"},
		Skipped: []string{"DESCRIBE"},
		Sent: []domain.SentMessage{
			{Index: 0, State: "OPTIONS", Phase: domain.PhasePrefix, CSeq: 1, Responded: true},
			{Index: 1, State: "SETUP", Phase: domain.PhaseMutation, CSeq: 2},
		},
	}
	md := TrialSummary(res)
	assert.Contains(t, md, "# Trial m7")
	assert.Contains(t, md, "no_response_to_mutation")
	assert.Contains(t, md, "5A3F9C21")
	assert.Contains(t, md, "DESCRIBE")
	assert.Contains(t, md, "| 1 | SETUP | mutation | 2 | false |")
}

func TestBaselineSummary(t *testing.T) {
	md := BaselineSummary([]domain.TrialResult{
		{Trial: domain.Trial{State: "OPTIONS"}, Outcome: domain.OutcomeCompleted, Coverage: "cov/OPTIONS_1.sancov"},
	})
	assert.Contains(t, md, "| OPTIONS | - | completed | 0 | cov/OPTIONS_1.sancov |")
}

func TestRenderer_PlainPassthrough(t *testing.T) {
	out, err := NewRenderer(false)("# Title\n")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n", out)

	out, err = NewRenderer(true)("# Title\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "v1.2.3")
	assert.Contains(t, buf.String(), "v1.2.3")
}
