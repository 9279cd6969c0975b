package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/replayfuzz/internal/testutils"
	"github.com/aretw0/replayfuzz/pkg/adapters/memory"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
)

type fixedRun struct{ report scheduler.Report }

func (f fixedRun) Snapshot() scheduler.Report { return f.report }

func TestHealth(t *testing.T) {
	handler := NewHandler(&Server{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestStatus(t *testing.T) {
	ledger := memory.NewLedger()
	require.NoError(t, ledger.Record(context.Background(), domain.TrialRecord{
		Path: "mutations/SETUP/m1.raw", Pair: domain.PairKey{State: "SETUP"}, Outcome: domain.OutcomeCompleted,
	}))
	run := fixedRun{report: scheduler.Report{RunID: "run-1", StopReason: scheduler.StopTrials}}

	handler := NewHandler(&Server{Run: run, Ledger: ledger, Version: "v0.1.0"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "v0.1.0", resp.Version)
	require.NotNil(t, resp.Run)
	assert.Equal(t, "run-1", resp.Run.RunID)
	require.NotNil(t, resp.Ledger)
	assert.Equal(t, 1, resp.Ledger.Trials)
	assert.Equal(t, 1, resp.Ledger.ByPair["SETUP"])
}

func TestMetricsRouteOnlyWhenConfigured(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(&Server{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("m 1\n")) })
	rr = httptest.NewRecorder()
	NewHandler(&Server{Metrics: metrics}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "m 1\n", rr.Body.String())
}

func TestServe_ShutsDownWithContext(t *testing.T) {
	addr := testutils.FreeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, NewHandler(&Server{}), nil) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
