package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording(t *testing.T) {
	m := New()

	m.ObserveTick(2*time.Millisecond, 3, 2)
	m.ObserveTick(time.Millisecond, 3, 0)
	m.ActionFailed()
	m.SetRegistered(3)
	m.Dropped()
	m.Delivered("log", nil)
	m.Delivered("log", nil)
	m.Delivered("webhook", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.registered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("log", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("webhook", ResultError)))
}

func TestNilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTick(time.Second, 1, 1)
		m.ActionFailed()
		m.SetRegistered(1)
		m.Dropped()
		m.Delivered("log", nil)
	})
	assert.Nil(t, m.Registry())

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetRegistered(5)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "notifier_jobs_registered 5"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
