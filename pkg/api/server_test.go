package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir(), store.WithHostname("api-host"))
	require.NoError(t, err)
	return s
}

func seedItem(t *testing.T, s *store.Store, id string) {
	t.Helper()
	dir := filepath.Join(s.InputDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "message.eml"),
		[]byte("From: shop@obchod.cz\r\nSubject: Dokument\r\n\r\ntext\r\n"), 0644))
}

func startTestServer(t *testing.T, s *store.Store) *Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0", s)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func TestServerServesStatus(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, "item_a")
	seedItem(t, s, "item_b")
	require.NoError(t, s.WriteArtifact(&types.Artifact{
		ItemID: "item_a", Phase: 1, DocKind: types.KindInvoice, Fields: map[string]string{},
	}))
	require.NoError(t, s.AppendFailure(&types.FailureRecord{
		ItemID: "item_b", Phase: 1, Reason: types.ReasonUnclassified,
	}))

	srv := startTestServer(t, s)

	resp, err := http.Get(fmt.Sprintf("http://%s/status", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got.InputItems)
	require.Len(t, got.Phases, 5)
	assert.Equal(t, 1, got.Phases[0].Artifacts)
	assert.Equal(t, 1, got.Phases[0].Failures)
	assert.Equal(t, 0, got.Phases[1].Artifacts)
}

func TestServerServesMetrics(t *testing.T) {
	s := newTestStore(t)
	srv := startTestServer(t, s)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerServesProbes(t *testing.T) {
	s := newTestStore(t)
	srv := startTestServer(t, s)

	// Readiness gates on the store component.
	metrics.RegisterComponent("store", true, "opened")

	for _, path := range []string{"/health", "/ready", "/live"} {
		resp, err := http.Get(fmt.Sprintf("http://%s%s", srv.Addr(), path))
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServerStatusRejectsPost(t *testing.T) {
	s := newTestStore(t)
	srv := startTestServer(t, s)

	resp, err := http.Post(fmt.Sprintf("http://%s/status", srv.Addr()), "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerBindFailureIsSynchronous(t *testing.T) {
	s := newTestStore(t)
	first := startTestServer(t, s)

	second := NewServer(first.Addr(), s)
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestGatherStatusCountsFreshInstances(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	require.NoError(t, s.WriteInstanceStatus(&types.InstanceStatus{
		InstanceID: "live", Phase: 1, Running: true, Processed: 3, UpdatedAt: now,
	}))
	require.NoError(t, s.WriteInstanceStatus(&types.InstanceStatus{
		InstanceID: "stale", Phase: 1, Running: true, UpdatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, s.WriteInstanceStatus(&types.InstanceStatus{
		InstanceID: "finished", Phase: 1, Running: false, UpdatedAt: now,
	}))

	status, err := GatherStatus(s)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Running)
	require.Len(t, status.Instances, 3)

	fresh := map[string]bool{}
	for _, inst := range status.Instances {
		fresh[inst.InstanceID] = inst.Fresh
	}
	assert.True(t, fresh["live"])
	assert.False(t, fresh["stale"])
	assert.False(t, fresh["finished"])
}

func TestGatherStatusDeferredAndMarkers(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendDeferred(&types.FailureRecord{
		ItemID: "item_x", Phase: 3, Reason: types.ReasonQuotaExhausted,
	}))
	require.NoError(t, s.WriteMarker(1))

	status, err := GatherStatus(s)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Deferred)
	assert.True(t, status.Phases[0].Done)
	assert.False(t, status.Phases[1].Done)
}
