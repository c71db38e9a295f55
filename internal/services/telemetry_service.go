package services

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rmendes/anycubic-cloud-bridge/internal/models"
)

// TelemetryService publishes bridge process telemetry to the local broker on
// a fixed interval: CPU, memory, goroutine count, and both links' connection
// states.
type TelemetryService struct {
	pubTopic   string
	interval   time.Duration
	publisher  LocalPublisher
	linkStates func() map[string]string
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelemetryService initializes a new TelemetryService. linkStates is
// sampled on every tick.
func NewTelemetryService(pubTopic string, interval time.Duration, publisher LocalPublisher,
	linkStates func() map[string]string, logger zerolog.Logger) *TelemetryService {

	return &TelemetryService{
		pubTopic:   pubTopic,
		interval:   interval,
		publisher:  publisher,
		linkStates: linkStates,
		logger:     logger,
	}
}

// Start publishes an initial snapshot and launches the telemetry loop in a
// separate goroutine.
func (t *TelemetryService) Start() error {
	if t.ctx != nil {
		t.logger.Warn().Msg("TelemetryService is already running")
		return errors.New("telemetry service is already running")
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.publishMetrics()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.runTelemetryLoop()
	}()

	t.logger.Info().Str("topic", t.pubTopic).Msg("TelemetryService started successfully")
	return nil
}

// Stop gracefully stops the telemetry service.
func (t *TelemetryService) Stop() error {
	if t.ctx == nil {
		t.logger.Warn().Msg("TelemetryService is not running")
		return errors.New("telemetry service is not running")
	}

	t.cancel()
	t.wg.Wait()

	t.ctx = nil
	t.cancel = nil

	t.logger.Info().Msg("TelemetryService stopped successfully")
	return nil
}

// runTelemetryLoop collects and publishes metrics at the configured interval.
func (t *TelemetryService) runTelemetryLoop() {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.publishMetrics()
		case <-t.ctx.Done():
			return
		}
	}
}

// publishMetrics collects one telemetry snapshot and publishes it.
func (t *TelemetryService) publishMetrics() {
	metrics := models.BridgeMetrics{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
		LinkStates: t.linkStates(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics.CPUPercent = percents[0]
	} else if err != nil {
		t.logger.Debug().Err(err).Msg("Failed to collect CPU metrics")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		metrics.MemoryUsedBytes = vm.Used
		metrics.MemoryPercent = vm.UsedPercent
	} else {
		t.logger.Debug().Err(err).Msg("Failed to collect memory metrics")
	}

	payload, err := json.Marshal(metrics)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to serialize telemetry")
		return
	}

	if err := t.publisher.Publish(t.pubTopic, payload); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to publish telemetry")
	}
}
