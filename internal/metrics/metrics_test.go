// ABOUTME: Tests for the prometheus instruments
// ABOUTME: Checks counters, the in-flight gauge, nil safety and the scrape handler

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(nil)

	m.ObserveHandshake("1", ResultOK)
	m.ObserveHandshake("1", ResultOK)
	m.ObserveHandshake("2", ResultRejected)
	m.TokenIssued("USER")
	m.GateRejected("invalid_token")
	m.SessionsEvicted(3)
	m.SessionsEvicted(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.handshakes.WithLabelValues("1", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handshakes.WithLabelValues("2", ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("USER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateRejections.WithLabelValues("invalid_token")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.evicted))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHandshake("1", ResultOK)
		m.TokenIssued("USER")
		m.GateRejected("missing_header")
		m.SessionsEvicted(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	inFlight := 7
	m := New(func() int { return inFlight })
	m.ObserveHandshake("2", ResultOK)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `srpgate_handshake_total{result="ok",step="2"} 1`), text)
	assert.Contains(t, text, "srpgate_sessions_in_flight 7")
	assert.Contains(t, text, "go_goroutines")
}
