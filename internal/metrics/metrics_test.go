package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New()

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/files/*path", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	for _, p := range []string{"/files/a", "/files/b/c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.InDelta(t, 2, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/files/*path", "418")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")), 0)
}

func TestObserveUpstream(t *testing.T) {
	m := New()

	m.ObserveUpstream("GET", 200, 10*time.Millisecond)
	m.ObserveUpstream("GET", 200, 20*time.Millisecond)
	m.ObserveUpstream("GET", 0, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("GET", "0")), 0)
}

func TestRecordListing(t *testing.T) {
	m := New()

	m.RecordListing(3)
	m.RecordListing(250)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var hist *dto.Histogram

	for _, f := range families {
		if f.GetName() == "onedrive_serve_listing_entries" {
			hist = f.GetMetric()[0].GetHistogram()
		}
	}

	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 253, hist.GetSampleSum(), 0)
}

func TestGuardAndTokenCounters(t *testing.T) {
	m := New()

	m.RecordGuardCheck(http.StatusUnauthorized)
	m.RecordGuardCheck(http.StatusUnauthorized)
	m.RecordTokenUnavailable()

	assert.InDelta(t, 2, testutil.ToFloat64(m.guardChecks.WithLabelValues("401")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tokenMisses), 0)
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.RecordTokenUnavailable()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "onedrive_serve_token_unavailable_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
