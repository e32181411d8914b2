package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/facolos/etl/internal/domain/pipeline"
)

var testAlert = pipeline.Alert{
	Severity: pipeline.SeverityCritical,
	SourceID: "tiktok_orders",
	Rule:     pipeline.RuleConsecutiveFailures,
	Message:  "pipeline has failed 3 consecutive times",
	RaisedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), testAlert))
	warning := testAlert
	warning.Severity = pipeline.SeverityWarning
	require.NoError(t, n.Notify(context.Background(), warning))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, testAlert.Message, entries[0].Message)
	assert.Equal(t, "tiktok_orders", entries[0].ContextMap()["source_id"])
	assert.Equal(t, "consecutive_failures", entries[0].ContextMap()["rule"])
}

func TestWebhookNotifier_Posts(t *testing.T) {
	var got WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	require.NoError(t, n.Notify(context.Background(), testAlert))

	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, "tiktok_orders", got.SourceID)
	assert.Equal(t, "consecutive_failures", got.Rule)
	assert.Equal(t, "[critical] tiktok_orders consecutive_failures: pipeline has failed 3 consecutive times", got.Text)
	assert.True(t, testAlert.RaisedAt.Equal(got.RaisedAt))
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL, WithHTTPClient(server.Client())).Notify(context.Background(), testAlert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestWebhookNotifier_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewWebhookNotifier(url).Notify(context.Background(), testAlert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook request failed")
}
