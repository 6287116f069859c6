package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, requestsTotal)
	require.NotNil(t, entitiesTotal)
	require.NotNil(t, activeWorkers)
}

func TestObserveEntity(t *testing.T) {
	Init()
	before := testutil.ToFloat64(entitiesTotal.WithLabelValues("rolled-back"))
	ObserveEntity("rolled-back", 2*time.Second)
	require.InDelta(t, before+1, testutil.ToFloat64(entitiesTotal.WithLabelValues("rolled-back")), 0.0001)
}

func TestObservePageCountsReviews(t *testing.T) {
	Init()
	before := testutil.ToFloat64(reviewsTotal)
	ObservePage("records", 7)
	ObservePage("empty", 0)
	require.InDelta(t, before+7, testutil.ToFloat64(reviewsTotal), 0.0001)
}

func TestObserveStatusRequest(t *testing.T) {
	Init()
	before := testutil.CollectAndCount(statusRequestSeconds)
	ObserveStatusRequest(http.MethodGet, "/metrics-test-route", http.StatusTeapot, 10*time.Millisecond)
	require.Equal(t, before+1, testutil.CollectAndCount(statusRequestSeconds))
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	require.InDelta(t, before+1, testutil.ToFloat64(activeWorkers), 0.0001)
	DecActiveWorkers()
}

func TestHandlerServesCollectors(t *testing.T) {
	ObserveRequest("ok")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "harvester_requests_total")
}
