package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/config"
)

func defaultThresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     50.0,
		BacklogThreshold:     100,
		MaxPendingAgeHours:   72,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(defaultThresholds())

	snap := &MetricsSnapshot{
		RunsTotal:     100,
		RunsComplete:  95,
		RunsFailed:    5,
		RunFailRate:   0.05,
		CostUSD:       10.0,
		ReviewBacklog: 40,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(defaultThresholds())

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsComplete:  12,
		RunsFailed:    8,
		RunFailRate:   0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(defaultThresholds())

	// Three finished runs is below the minimum sample.
	snap := &MetricsSnapshot{
		RunsTotal:     3,
		RunsComplete:  1,
		RunsFailed:    2,
		RunFailRate:   0.666,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(defaultThresholds())

	snap := &MetricsSnapshot{
		RunsTotal:     50,
		RunsComplete:  50,
		CostUSD:       72.5,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$72.50")
}

func TestAlerter_Evaluate_ReviewBacklog(t *testing.T) {
	a := NewAlerter(defaultThresholds())

	snap := &MetricsSnapshot{
		Tenants:       []string{"acme", "globex"},
		ReviewBacklog: 250,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "250 open review entries")
	assert.Contains(t, alerts[0].Message, "2 tenant(s)")
}

func TestAlerter_Evaluate_StaleReview(t *testing.T) {
	a := NewAlerter(defaultThresholds())

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-100 * time.Hour)
	snap := &MetricsSnapshot{
		ReviewBacklog:   3,
		OldestPendingAt: &oldest,
		CollectedAt:     now,
		LookbackHours:   24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleReview, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "100h")
	assert.Equal(t, now, alerts[0].Timestamp)

	fresh := now.Add(-2 * time.Hour)
	snap.OldestPendingAt = &fresh
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(defaultThresholds())

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsComplete:  10,
		RunsFailed:    10,
		RunFailRate:   0.5,
		CostUSD:       300.0,
		ReviewBacklog: 500,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertCostOverrun])
	assert.True(t, types[AlertReviewBacklog])
}

func TestAlerter_Evaluate_ZeroThresholdsDisable(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	oldest := time.Now().Add(-1000 * time.Hour)
	snap := &MetricsSnapshot{
		RunsComplete:    5,
		RunsFailed:      5,
		RunFailRate:     0.5,
		CostUSD:         999.0,
		ReviewBacklog:   10000,
		OldestPendingAt: &oldest,
		LookbackHours:   24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertReviewBacklog, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCostOverrun, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}
