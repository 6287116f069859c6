package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/progress"
)

type fakeProgress struct {
	snap progress.Snapshot
}

func (f fakeProgress) Snapshot() progress.Snapshot {
	return f.snap
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(fakeProgress{}, zap.NewNop()).Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil).Handler(), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Progress(t *testing.T) {
	t.Parallel()

	src := fakeProgress{snap: progress.Snapshot{Processed: 7, Succeeded: 5, Failed: 2, InFlight: 1}}
	s := NewServer(src, zap.NewNop())
	base := time.Unix(1_000, 0)
	s.started = base
	s.now = func() time.Time { return base.Add(90 * time.Second) }

	rec := serve(t, s.Handler(), "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 7, body["processed"])
	require.EqualValues(t, 5, body["success_count"])
	require.EqualValues(t, 2, body["failed_count"])
	require.EqualValues(t, 1, body["in_flight"])
	require.EqualValues(t, 90, body["uptime_seconds"])
}

func TestServer_ProgressUnavailable(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, zap.NewNop()).Handler(), "/v1/progress")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "checkpoint not loaded")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(fakeProgress{}, zap.NewNop()).Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_MetricsRecordsRoutes(t *testing.T) {
	t.Parallel()

	h := NewServer(fakeProgress{}, zap.NewNop()).Handler()
	require.Equal(t, http.StatusOK, serve(t, h, "/v1/progress").Code)

	rec := serve(t, h, "/metrics")
	require.Contains(t, rec.Body.String(), `harvester_status_http_request_duration_seconds_count{method="GET",route="/v1/progress",status="200"}`)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(fakeProgress{}, zap.NewNop())
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := serve(t, h, "/")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(fakeProgress{}, zap.NewNop()).ListenAndServe(ctx, addr)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
