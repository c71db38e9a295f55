package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmendes/anycubic-cloud-bridge/internal/models"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/anycubic"
)

// PrinterSource supplies the printer records the discovery service announces.
type PrinterSource interface {
	Snapshot() []anycubic.Printer
}

// DiscoveryService publishes Home Assistant MQTT discovery configurations
// and per-printer status to the local broker, so mirrored printers show up
// as HA entities without manual configuration.
type DiscoveryService struct {
	baseTopic string
	interval  time.Duration
	printers  PrinterSource
	publisher LocalPublisher
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDiscoveryService initializes a new DiscoveryService.
func NewDiscoveryService(baseTopic string, interval time.Duration, printers PrinterSource,
	publisher LocalPublisher, logger zerolog.Logger) *DiscoveryService {

	return &DiscoveryService{
		baseTopic: baseTopic,
		interval:  interval,
		printers:  printers,
		publisher: publisher,
		logger:    logger,
	}
}

// Start publishes the discovery configurations and status immediately and
// launches the periodic republish loop.
func (d *DiscoveryService) Start() error {
	if d.ctx != nil {
		d.logger.Warn().Msg("DiscoveryService is already running")
		return errors.New("discovery service is already running")
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.PublishDiscovery()
	d.PublishStatus()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runStatusLoop()
	}()

	d.logger.Info().Msg("DiscoveryService started successfully")
	return nil
}

// Stop gracefully stops the discovery service.
func (d *DiscoveryService) Stop() error {
	if d.ctx == nil {
		d.logger.Warn().Msg("DiscoveryService is not running")
		return errors.New("discovery service is not running")
	}

	d.cancel()
	d.wg.Wait()

	d.ctx = nil
	d.cancel = nil

	d.logger.Info().Msg("DiscoveryService stopped successfully")
	return nil
}

// runStatusLoop republishes discovery configs and printer status on the
// configured interval. Discovery configs are retained and idempotent, so
// republishing also recovers configs dropped while the local link was down.
func (d *DiscoveryService) runStatusLoop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.PublishDiscovery()
			d.PublishStatus()
		case <-d.ctx.Done():
			return
		}
	}
}

// PublishDiscovery announces every known printer to Home Assistant: a status
// sensor and an online binary sensor per printer, retained.
func (d *DiscoveryService) PublishDiscovery() {
	for _, printer := range d.printers.Snapshot() {
		name := printer.Name
		if name == "" {
			name = printer.Model
		}
		if name == "" {
			name = "Anycubic " + printer.Key
		}

		device := models.DiscoveryDevice{
			Identifiers:  []string{"anycubic_" + printer.Key},
			Name:         name,
			Manufacturer: "Anycubic",
			Model:        printer.Model,
		}
		if device.Model == "" {
			device.Model = "Printer"
		}

		statusConfig := models.DiscoveryConfig{
			Name:       name + " Status",
			UniqueID:   fmt.Sprintf("anycubic_%s_status", printer.Key),
			StateTopic: d.statusTopic(printer.Key),
			Icon:       "mdi:printer-3d",
			Device:     device,
		}
		d.publishRetainedJSON(d.statusConfigTopic(printer.Key), statusConfig)

		onlineConfig := models.DiscoveryConfig{
			Name:        name + " Online",
			UniqueID:    fmt.Sprintf("anycubic_%s_online", printer.Key),
			StateTopic:  d.onlineTopic(printer.Key),
			DeviceClass: "connectivity",
			PayloadOn:   "online",
			PayloadOff:  "offline",
			Device:      device,
		}
		d.publishRetainedJSON(d.onlineConfigTopic(printer.Key), onlineConfig)
	}
}

// PublishStatus publishes the current status and online state of every
// known printer, retained.
func (d *DiscoveryService) PublishStatus() {
	for _, printer := range d.printers.Snapshot() {
		status := printer.Status
		if status == "" {
			status = "unknown"
		}
		if err := d.publisher.PublishRetained(d.statusTopic(printer.Key), []byte(status)); err != nil {
			d.logger.Warn().Str("printer_key", printer.Key).Err(err).Msg("Failed to publish printer status")
		}

		online := "offline"
		if printer.Online {
			online = "online"
		}
		if err := d.publisher.PublishRetained(d.onlineTopic(printer.Key), []byte(online)); err != nil {
			d.logger.Warn().Str("printer_key", printer.Key).Err(err).Msg("Failed to publish printer online state")
		}
	}
}

// publishRetainedJSON marshals and publishes a discovery configuration.
func (d *DiscoveryService) publishRetainedJSON(topic string, config models.DiscoveryConfig) {
	payload, err := json.Marshal(config)
	if err != nil {
		d.logger.Error().Str("topic", topic).Err(err).Msg("Failed to serialize discovery config")
		return
	}

	d.logger.Info().Str("topic", topic).Msg("Publishing HA discovery config")
	if err := d.publisher.PublishRetained(topic, payload); err != nil {
		d.logger.Warn().Str("topic", topic).Err(err).Msg("Failed to publish discovery config")
	}
}

func (d *DiscoveryService) statusConfigTopic(printerKey string) string {
	return fmt.Sprintf("homeassistant/sensor/anycubic_%s_status/config", printerKey)
}

func (d *DiscoveryService) onlineConfigTopic(printerKey string) string {
	return fmt.Sprintf("homeassistant/binary_sensor/anycubic_%s_online/config", printerKey)
}

func (d *DiscoveryService) statusTopic(printerKey string) string {
	return fmt.Sprintf("%s/printers/%s/status", d.baseTopic, printerKey)
}

func (d *DiscoveryService) onlineTopic(printerKey string) string {
	return fmt.Sprintf("%s/printers/%s/online", d.baseTopic, printerKey)
}
