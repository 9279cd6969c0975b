package scheduler_test

import (
	"math/rand/v2"
	"testing"

	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func rtspTranscript() domain.Transcript {
	return domain.NewTranscript(
		[2]string{"OPTIONS", "200"},
		[2]string{"SETUP", "200"},
		[2]string{"PLAY", "200"},
	)
}

func TestRoundRobin_Cycles(t *testing.T) {
	p, err := scheduler.NewPolicy(scheduler.KindRoundRobin, rtspTranscript(), 0, seeded())
	require.NoError(t, err)

	var got []int
	for range 7 {
		got = append(got, p.Next())
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestWeighted_SkipsZeroWeights(t *testing.T) {
	w := scheduler.NewWeighted([]float64{0, 3, 0}, seeded())
	for range 100 {
		assert.Equal(t, 1, w.Next())
	}
}

func TestWeighted_AllZeroFallsBackToUniform(t *testing.T) {
	w := scheduler.NewWeighted([]float64{0, 0}, seeded())
	seen := map[int]bool{}
	for range 200 {
		seen[w.Next()] = true
	}
	assert.Len(t, seen, 2)
}

func TestWeights(t *testing.T) {
	tr := domain.NewTranscript(
		[2]string{"CONNECT", "CONNACK"},
		[2]string{"PUBLISH", ""},
		[2]string{"PUBLISH", ""},
		[2]string{"PINGREQ", "PINGRESP"},
	)
	assert.Equal(t, []float64{1, 2, 0, 1}, scheduler.FrequencyWeights(tr))
	assert.Equal(t, []float64{7, 7, 7, 7}, scheduler.LengthWeights(tr))
	assert.Equal(t, []float64{7, 5, 4}, scheduler.LengthWeights(rtspTranscript()))
}

func TestWeighted_DrawsStatesByFrequency(t *testing.T) {
	tr := domain.NewTranscript(
		[2]string{"USER", "331"},
		[2]string{"PASS", "230"},
		[2]string{"PASS", "230"},
	)
	p, err := scheduler.NewPolicy(scheduler.KindWeighted, tr, 0, seeded())
	require.NoError(t, err)

	const draws = 30000
	counts := make(map[int]int)
	for range draws {
		counts[p.Next()]++
	}
	assert.InDelta(t, 1.0/3, float64(counts[0])/draws, 0.02, "USER occurs once in three")
	assert.InDelta(t, 2.0/3, float64(counts[1])/draws, 0.02, "PASS occurs twice in three")
	assert.Zero(t, counts[2], "a repeated state is injected at its first occurrence")
}

func TestUniform_InRange(t *testing.T) {
	p, err := scheduler.NewPolicy(scheduler.KindUniform, rtspTranscript(), 0, seeded())
	require.NoError(t, err)
	for range 100 {
		i := p.Next()
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 3)
	}
}

func TestPinned(t *testing.T) {
	inner, err := scheduler.NewPolicy(scheduler.KindRoundRobin, rtspTranscript(), 0, seeded())
	require.NoError(t, err)
	pinned := scheduler.NewPinned(inner, 3)

	first := pinned.Next()
	assert.Equal(t, 0, first)
	pinned.Observe(first, 2)
	assert.Equal(t, 0, pinned.Next(), "one trial left on the pin")
	pinned.Observe(first, 1)
	assert.Equal(t, 1, pinned.Next(), "pin spent, redraw")

	pinned.Observe(1, 0)
	assert.Equal(t, 2, pinned.Next(), "an index that ran nothing is dropped")
}

func TestNewPolicy_Pin(t *testing.T) {
	p, err := scheduler.NewPolicy(scheduler.KindLength, rtspTranscript(), 5, seeded())
	require.NoError(t, err)
	assert.IsType(t, &scheduler.Pinned{}, p)
}

func TestNewPolicy_Errors(t *testing.T) {
	_, err := scheduler.NewPolicy("bogus", rtspTranscript(), 0, seeded())
	assert.Error(t, err)

	_, err = scheduler.NewPolicy(scheduler.KindRoundRobin, nil, 0, seeded())
	assert.ErrorIs(t, err, domain.ErrTranscript)
}

func TestPickers(t *testing.T) {
	files := []string{"a", "b", "c"}

	assert.Equal(t, []string{"a", "b"}, scheduler.Batch{}.Pick(files, 2))
	assert.Equal(t, files, scheduler.Batch{}.Pick(files, 10))
	assert.Empty(t, scheduler.Batch{}.Pick(files, 0))

	r, err := scheduler.NewPicker(scheduler.PickerRandom, scheduler.KindWeighted, seeded())
	require.NoError(t, err)
	got := r.Pick(files, 50)
	require.Len(t, got, 1)
	assert.Contains(t, files, got[0])
	assert.Empty(t, r.Pick(nil, 5))
}

func TestNewPicker_Defaults(t *testing.T) {
	p, err := scheduler.NewPicker("", scheduler.KindRoundRobin, seeded())
	require.NoError(t, err)
	assert.IsType(t, scheduler.Batch{}, p)

	p, err = scheduler.NewPicker("", scheduler.KindLength, seeded())
	require.NoError(t, err)
	assert.IsType(t, &scheduler.Random{}, p)

	_, err = scheduler.NewPicker("bogus", "", seeded())
	assert.Error(t, err)
}
