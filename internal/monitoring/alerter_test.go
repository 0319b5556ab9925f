package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-radar/internal/config"
	"github.com/sells-group/listing-radar/internal/discovery"
	"github.com/sells-group/listing-radar/internal/pagination"
)

func category(name string, fetched, failed int, safety bool) discovery.CategoryReport {
	return discovery.CategoryReport{
		Result: pagination.Result{
			Cursor:         pagination.Cursor{Category: name},
			PagesFetched:   fetched,
			PagesFailed:    failed,
			HitSafetyLimit: safety,
		},
		Outcomes: map[discovery.Outcome]int{},
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{PageFailureThreshold: 0.25})

	r := discovery.CycleReport{
		ID: "c1",
		Categories: []discovery.CategoryReport{
			category("land", 19, 1, true),
			category("houses", 4, 0, false),
		},
	}
	assert.Empty(t, a.Evaluate(r))
}

func TestAlerter_Evaluate_PageFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{PageFailureThreshold: 0.25})

	r := discovery.CycleReport{
		ID:         "c2",
		Categories: []discovery.CategoryReport{category("land", 6, 4, false)},
	}
	alerts := a.Evaluate(r)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertPageFailures, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "c2", alerts[0].CycleID)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumPagesRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{PageFailureThreshold: 0.25})

	// Two of three pages failed, below the page minimum for the rate alert.
	r := discovery.CycleReport{
		Categories: []discovery.CategoryReport{category("land", 1, 2, false)},
	}
	assert.Empty(t, a.Evaluate(r))
}

func TestAlerter_Evaluate_ZeroThresholdDisablesRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	r := discovery.CycleReport{
		Categories: []discovery.CategoryReport{category("land", 1, 20, false)},
	}
	assert.Empty(t, a.Evaluate(r))
}

func TestAlerter_Evaluate_SafetyLimitOnEveryCategory(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{PageFailureThreshold: 0.5})

	r := discovery.CycleReport{
		Categories: []discovery.CategoryReport{
			category("land", 20, 0, true),
			category("houses", 20, 0, true),
		},
	}
	alerts := a.Evaluate(r)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSafetyLimitAll, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_Evaluate_Aborted(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{PageFailureThreshold: 0.5})

	land := category("land", 2, 0, false)
	land.Err = "pagination: write cursor land: disk full"
	r := discovery.CycleReport{
		ID:         "c3",
		Trigger:    discovery.TriggerQuickCheck,
		Aborted:    true,
		Categories: []discovery.CategoryReport{land},
	}
	alerts := a.Evaluate(r)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCycleAborted, alerts[0].Type)
	assert.Equal(t, "pagination: write cursor land: disk full", alerts[0].Details["error"])
	assert.Equal(t, "quick_check", alerts[0].Details["trigger"])
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{PageFailureThreshold: 0.1})

	r := discovery.CycleReport{
		Aborted:    true,
		Categories: []discovery.CategoryReport{category("land", 10, 10, true)},
	}
	alerts := a.Evaluate(r)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertCycleAborted])
	assert.True(t, types[AlertPageFailures])
	assert.True(t, types[AlertSafetyLimitAll])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
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
		{Type: AlertPageFailures, Severity: "high", Message: "test alert 1"},
		{Type: AlertCycleAborted, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertPageFailures, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPageFailures, Message: "test"}})
	assert.Equal(t, 0, sent)
}
