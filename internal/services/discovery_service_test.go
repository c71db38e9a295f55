package services_test

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmendes/anycubic-cloud-bridge/internal/models"
	"github.com/rmendes/anycubic-cloud-bridge/internal/services"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/anycubic"
	pkgmqtt "github.com/rmendes/anycubic-cloud-bridge/pkg/mqtt"
)

type recordedPublish struct {
	topic    string
	payload  string
	retained bool
}

// recordingPublisher captures everything published through it.
type recordingPublisher struct {
	mu        sync.Mutex
	published []recordedPublish
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.record(topic, payload, false)
	return nil
}

func (p *recordingPublisher) PublishRetained(topic string, payload []byte) error {
	p.record(topic, payload, true)
	return nil
}

func (p *recordingPublisher) record(topic string, payload []byte, retained bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, recordedPublish{topic: topic, payload: string(payload), retained: retained})
}

func (p *recordingPublisher) byTopic(topic string) (recordedPublish, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.published {
		if rec.topic == topic {
			return rec, true
		}
	}
	return recordedPublish{}, false
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// failingPublisher rejects every publish until allowed.
type failingPublisher struct {
	recordingPublisher
	allow atomic.Bool
}

func (p *failingPublisher) Publish(topic string, payload []byte) error {
	if !p.allow.Load() {
		return pkgmqtt.ErrNotConnected
	}
	return p.recordingPublisher.Publish(topic, payload)
}

func (p *failingPublisher) PublishRetained(topic string, payload []byte) error {
	if !p.allow.Load() {
		return pkgmqtt.ErrNotConnected
	}
	return p.recordingPublisher.PublishRetained(topic, payload)
}

// fixedPrinters is a PrinterSource with a static list.
type fixedPrinters []anycubic.Printer

func (f fixedPrinters) Snapshot() []anycubic.Printer {
	return f
}

// TestDiscoveryService_PublishDiscovery tests the HA discovery config
// topics and payloads.
func TestDiscoveryService_PublishDiscovery(t *testing.T) {
	publisher := &recordingPublisher{}
	printers := fixedPrinters{
		{Key: "KEY_A", Name: "Kobra 2", Model: "Kobra", MachineType: "20021", Status: "free", Online: true},
	}

	d := services.NewDiscoveryService("anycubic_cloud_proxy", time.Minute, printers, publisher, zerolog.Nop())
	d.PublishDiscovery()

	statusConfig, ok := publisher.byTopic("homeassistant/sensor/anycubic_KEY_A_status/config")
	require.True(t, ok)
	assert.True(t, statusConfig.retained)

	var config models.DiscoveryConfig
	require.NoError(t, json.Unmarshal([]byte(statusConfig.payload), &config))
	assert.Equal(t, "Kobra 2 Status", config.Name)
	assert.Equal(t, "anycubic_KEY_A_status", config.UniqueID)
	assert.Equal(t, "anycubic_cloud_proxy/printers/KEY_A/status", config.StateTopic)
	assert.Equal(t, "Anycubic", config.Device.Manufacturer)
	assert.Contains(t, config.Device.Identifiers, "anycubic_KEY_A")

	onlineConfig, ok := publisher.byTopic("homeassistant/binary_sensor/anycubic_KEY_A_online/config")
	require.True(t, ok)
	assert.True(t, onlineConfig.retained)
}

// TestDiscoveryService_PublishStatus tests the per-printer state topics.
func TestDiscoveryService_PublishStatus(t *testing.T) {
	publisher := &recordingPublisher{}
	printers := fixedPrinters{
		{Key: "KEY_A", Name: "Kobra 2", Status: "printing", Online: true},
		{Key: "KEY_B", Name: "Photon", Status: "", Online: false},
	}

	d := services.NewDiscoveryService("anycubic_cloud_proxy", time.Minute, printers, publisher, zerolog.Nop())
	d.PublishStatus()

	status, ok := publisher.byTopic("anycubic_cloud_proxy/printers/KEY_A/status")
	require.True(t, ok)
	assert.Equal(t, "printing", status.payload)
	assert.True(t, status.retained)

	online, ok := publisher.byTopic("anycubic_cloud_proxy/printers/KEY_A/online")
	require.True(t, ok)
	assert.Equal(t, "online", online.payload)

	statusB, ok := publisher.byTopic("anycubic_cloud_proxy/printers/KEY_B/status")
	require.True(t, ok)
	assert.Equal(t, "unknown", statusB.payload)

	onlineB, ok := publisher.byTopic("anycubic_cloud_proxy/printers/KEY_B/online")
	require.True(t, ok)
	assert.Equal(t, "offline", onlineB.payload)
}

// TestDiscoveryService_RecoversDiscoveryAfterOutage tests that discovery
// configs dropped while the local link is down are republished by the
// periodic loop once publishing succeeds again.
func TestDiscoveryService_RecoversDiscoveryAfterOutage(t *testing.T) {
	publisher := &failingPublisher{}
	printers := fixedPrinters{{Key: "KEY_A", Name: "Kobra 2", Status: "free", Online: true}}

	d := services.NewDiscoveryService("anycubic_cloud_proxy", 10*time.Millisecond, printers, publisher, zerolog.Nop())
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Stop() })

	// Nothing got through on start.
	assert.Equal(t, 0, publisher.count())

	publisher.allow.Store(true)

	require.Eventually(t, func() bool {
		_, ok := publisher.byTopic("homeassistant/sensor/anycubic_KEY_A_status/config")
		return ok
	}, time.Second, 5*time.Millisecond)

	_, ok := publisher.byTopic("homeassistant/binary_sensor/anycubic_KEY_A_online/config")
	assert.True(t, ok)
	_, ok = publisher.byTopic("anycubic_cloud_proxy/printers/KEY_A/status")
	assert.True(t, ok)
}

// TestDiscoveryService_StartStop tests the service lifecycle and the
// initial publish on start.
func TestDiscoveryService_StartStop(t *testing.T) {
	publisher := &recordingPublisher{}
	printers := fixedPrinters{{Key: "KEY_A", Name: "Kobra 2", Status: "free"}}

	d := services.NewDiscoveryService("anycubic_cloud_proxy", time.Hour, printers, publisher, zerolog.Nop())

	require.NoError(t, d.Start())
	assert.Error(t, d.Start()) // already running

	// Discovery configs plus status pairs were published on start.
	assert.GreaterOrEqual(t, publisher.count(), 4)

	require.NoError(t, d.Stop())
	assert.Error(t, d.Stop()) // not running
}
