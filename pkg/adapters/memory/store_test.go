package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/replayfuzz/pkg/adapters/memory"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger_Contract(t *testing.T) {
	ledger := memory.NewLedger()
	ports.RunLedgerContract(t, ledger)
}

func TestMemoryStore_MediaFallback(t *testing.T) {
	store := memory.NewStoreFrom(map[string]string{
		"SETUP":     "SETUP generic\r\n\r\n",
		"SETUP_mp3": "SETUP mp3\r\n\r\n",
	})

	p, err := store.Payload("SETUP", "mp3")
	require.NoError(t, err)
	assert.Equal(t, "SETUP mp3\r\n\r\n", string(p))

	p, err = store.Payload("SETUP", "wav")
	require.NoError(t, err)
	assert.Equal(t, "SETUP generic\r\n\r\n", string(p), "unknown media falls back to the generic payload")

	_, err = store.Payload("PLAY", "mp3")
	assert.ErrorIs(t, err, domain.ErrMissingPayload)
}

func TestMemoryStore_CopyOnRead(t *testing.T) {
	store := memory.NewStore()
	store.Put("OPTIONS", "", []byte("OPTIONS"))

	p, err := store.Payload("OPTIONS", "")
	require.NoError(t, err)
	p[0] = 'X'

	again, err := store.Payload("OPTIONS", "")
	require.NoError(t, err)
	assert.Equal(t, "OPTIONS", string(again))
}

func TestMemoryLocker_Contention(t *testing.T) {
	locker := memory.NewLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "127.0.0.1:8554", time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctxTimeout, "127.0.0.1:8554", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx), "unlock is idempotent")

	unlock2, err := locker.Lock(ctx, "127.0.0.1:8554", time.Second)
	require.NoError(t, err)
	assert.NoError(t, unlock2(ctx))
}
