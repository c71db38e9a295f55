package services_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmendes/anycubic-cloud-bridge/internal/models"
	"github.com/rmendes/anycubic-cloud-bridge/internal/services"
)

// TestTelemetryService_PublishesInitialSnapshot tests that one snapshot is
// published on start, before the first tick.
func TestTelemetryService_PublishesInitialSnapshot(t *testing.T) {
	publisher := &recordingPublisher{}
	linkStates := func() map[string]string {
		return map[string]string{"cloud": "connected", "local": "connected"}
	}

	svc := services.NewTelemetryService("anycubic_cloud_proxy/bridge/metrics", time.Hour, publisher, linkStates, zerolog.Nop())

	require.NoError(t, svc.Start())
	t.Cleanup(func() { _ = svc.Stop() })

	rec, ok := publisher.byTopic("anycubic_cloud_proxy/bridge/metrics")
	require.True(t, ok)
	assert.False(t, rec.retained)

	var metrics models.BridgeMetrics
	require.NoError(t, json.Unmarshal([]byte(rec.payload), &metrics))
	assert.Equal(t, "connected", metrics.LinkStates["cloud"])
	assert.Equal(t, "connected", metrics.LinkStates["local"])
	assert.Positive(t, metrics.Goroutines)
	assert.False(t, metrics.Timestamp.IsZero())
}

// TestTelemetryService_StartStop tests the service lifecycle guards.
func TestTelemetryService_StartStop(t *testing.T) {
	publisher := &recordingPublisher{}
	linkStates := func() map[string]string { return nil }

	svc := services.NewTelemetryService("anycubic_cloud_proxy/bridge/metrics", time.Hour, publisher, linkStates, zerolog.Nop())

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())

	require.NoError(t, svc.Stop())
	assert.Error(t, svc.Stop())
}
