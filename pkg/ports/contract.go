package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunLedgerContract runs a suite of tests to verify that a Ledger implementation
// adheres to the defined interface contract. The ledger must start empty.
func RunLedgerContract(t *testing.T, ledger Ledger) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405")
	pair := domain.PairKey{State: "SETUP", Media: "mp3"}

	t.Run("Record marks consumed", func(t *testing.T) {
		path := "/corpus/mp3/SETUP/SETUP_a_" + suffix + ".raw"

		seen, err := ledger.Consumed(ctx, path)
		require.NoError(t, err)
		assert.False(t, seen, "fresh path should not be consumed")

		err = ledger.Record(ctx, domain.TrialRecord{Path: path, Pair: pair, Outcome: domain.OutcomeCompleted, At: time.Now()})
		require.NoError(t, err, "Record should not return error")

		seen, err = ledger.Consumed(ctx, path)
		require.NoError(t, err)
		assert.True(t, seen, "recorded path must be consumed")
	})

	t.Run("Pair counter and reset", func(t *testing.T) {
		other := domain.PairKey{State: "PLAY", Media: "aac"}
		for i := 0; i < 3; i++ {
			err := ledger.Record(ctx, domain.TrialRecord{
				Path:    "/corpus/aac/PLAY/PLAY_" + suffix + "_" + string(rune('a'+i)) + ".raw",
				Pair:    other,
				Outcome: domain.OutcomeNoResponseToMutation,
			})
			require.NoError(t, err)
		}

		count, err := ledger.PairCount(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		require.NoError(t, ledger.ResetPair(ctx, other))
		count, err = ledger.PairCount(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, 0, count, "ResetPair should zero the counter")

		// A reset pair does not forget consumed files.
		seen, err := ledger.Consumed(ctx, "/corpus/aac/PLAY/PLAY_"+suffix+"_a.raw")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("Unknown pair counts zero", func(t *testing.T) {
		count, err := ledger.PairCount(ctx, domain.PairKey{State: "NEVER"})
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("Stats", func(t *testing.T) {
		err := ledger.Record(ctx, domain.TrialRecord{
			Path:     "/corpus/mp3/SETUP/SETUP_cov_" + suffix + ".raw",
			Pair:     pair,
			Outcome:  domain.OutcomeStartFailure,
			Coverage: "/cov/SETUP_cov.sancov",
		})
		require.NoError(t, err)

		stats, err := ledger.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, stats.Trials)
		assert.Equal(t, 1, stats.Coverage)
		assert.Equal(t, 1, stats.ByOutcome[domain.OutcomeStartFailure])
		assert.Equal(t, 3, stats.ByOutcome[domain.OutcomeNoResponseToMutation])
		assert.Equal(t, 2, stats.ByPair[pair.String()])
	})
}
