package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveTick("accrual", 10*time.Millisecond, nil)
	m.ObserveTick("accrual", 10*time.Millisecond, errors.New("boom"))
	m.ObserveTickSkipped("accrual")
	m.CountSlot("accrual", OutcomeUpdated)
	m.CountSlot("accrual", OutcomeUpdated)
	m.CountAlert("clock_skew")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("accrual", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("accrual", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("accrual", "skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.slotsProcessed.WithLabelValues("accrual", OutcomeUpdated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.integrityAlerts.WithLabelValues("clock_skew")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsConnections))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTick("accrual", time.Second, nil)
	m.CountSlot("accrual", OutcomeFailed)
	m.CountDropped("ws")
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.CountClaimRequest("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "slot_ledger_manual_claims_total"))
}
