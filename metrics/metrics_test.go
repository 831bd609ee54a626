package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCount(t *testing.T) {
	c := NewCollectors("test", nil)

	c.MessageTransitions.WithLabelValues("JOINED").Inc()
	c.MessageTransitions.WithLabelValues("JOINED").Inc()
	c.Joins.WithLabelValues(OutcomeRejected).Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.MessageTransitions.WithLabelValues("JOINED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.MessageTransitions.WithLabelValues("FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Joins.WithLabelValues(OutcomeRejected)))
}

func TestMetricsServerExposesCollectors(t *testing.T) {
	srv, err := New("kanon", "127.0.0.1:0")
	require.NoError(t, err)

	srv.Collectors.SignBatches.WithLabelValues(OutcomeSuccess).Add(3)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `kanon_sign_batches_total{outcome="success"} 3`), body)
	assert.Contains(t, body, "go_goroutines")
}
