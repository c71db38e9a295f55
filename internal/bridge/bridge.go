package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rmendes/anycubic-cloud-bridge/internal/routing"
	pkgmqtt "github.com/rmendes/anycubic-cloud-bridge/pkg/mqtt"
)

// Link is the contract the bridge needs from a managed broker connection.
// *pkgmqtt.Link satisfies it; tests substitute fakes.
type Link interface {
	Start() error
	Close()
	Publish(topic string, payload []byte) error
	OnMessage(handler pkgmqtt.MessageHandler)
	State() pkgmqtt.LinkState
}

// Bridge wires the cloud and local links through the topic router. It owns
// startup sequencing, shutdown, and the per-message forwarding path; the
// links supervise their own connections independently, so a failure on one
// side never tears down the other.
type Bridge struct {
	cloud  Link
	local  Link
	router *routing.Router
	logger zerolog.Logger
}

// New creates a Bridge over the given links and router.
func New(cloud, local Link, router *routing.Router, logger zerolog.Logger) *Bridge {
	return &Bridge{
		cloud:  cloud,
		local:  local,
		router: router,
		logger: logger,
	}
}

// Start registers the message handlers and starts both links, cloud first.
func (b *Bridge) Start() error {
	b.cloud.OnMessage(b.handleCloudMessage)
	b.local.OnMessage(b.handleLocalMessage)

	if err := b.cloud.Start(); err != nil {
		return fmt.Errorf("failed to start cloud link: %w", err)
	}
	if err := b.local.Start(); err != nil {
		b.cloud.Close()
		return fmt.Errorf("failed to start local link: %w", err)
	}

	b.logger.Info().Msg("Bridge started, forwarding between cloud and local brokers")
	return nil
}

// Stop closes both links.
func (b *Bridge) Stop() {
	b.local.Close()
	b.cloud.Close()
	b.logger.Info().Msg("Bridge stopped")
}

// handleCloudMessage mirrors every inbound cloud message onto the local
// topic tree. One-shot: a failed local publish drops the message.
func (b *Bridge) handleCloudMessage(topic string, payload []byte) {
	localTopic := b.router.CloudToLocal(topic)

	if err := b.local.Publish(localTopic, payload); err != nil {
		b.logger.Warn().
			Str("cloud_topic", topic).
			Str("local_topic", localTopic).
			Err(err).
			Msg("Dropped cloud message, local publish failed")
		return
	}

	b.logger.Debug().Str("cloud_topic", topic).Str("local_topic", localTopic).Msg("Mirrored cloud message")
}

// handleLocalMessage parses, authorizes and forwards a local command to the
// cloud broker. Parse and authorization failures are local to one message
// and never affect the connections.
func (b *Bridge) handleLocalMessage(topic string, payload []byte) {
	switch b.router.ClassifyLocal(topic) {
	case routing.KindRaw:
		b.forwardRawCommand(topic, payload)
	case routing.KindPublishByKey:
		b.forwardPublishCommand(topic, payload)
	default:
		b.logger.Debug().Str("topic", topic).Msg("Ignoring unhandled local topic")
	}
}

// forwardRawCommand handles the raw-forward form: an explicit target cloud
// topic carried inside the JSON payload.
func (b *Bridge) forwardRawCommand(topic string, payload []byte) {
	cmd, err := b.router.ParseRawCommand(payload)
	if err != nil {
		b.logger.Error().Str("topic", topic).Err(err).Msg("Dropped raw command, parse failed")
		return
	}

	if !b.router.AuthorizeForCloud(cmd.Topic) {
		b.logger.Warn().
			Str("cloud_topic", cmd.Topic).
			Msg("Rejected raw command, target topic outside allowed prefix")
		return
	}

	b.publishToCloud(cmd.Topic, routing.EncodeCommandPayload(cmd.Payload), "raw")
}

// forwardPublishCommand handles the publish-by-key form: the target cloud
// topic is derived from the printer's machine-type metadata.
func (b *Bridge) forwardPublishCommand(topic string, payload []byte) {
	printerKey, endpoint, err := b.router.SplitPublishTopic(topic)
	if err != nil {
		b.logger.Error().Str("topic", topic).Err(err).Msg("Dropped publish command, invalid local topic")
		return
	}

	cloudTopic, err := b.router.BuildPublishTopic(printerKey, endpoint)
	if err != nil {
		if errors.Is(err, routing.ErrUnknownPrinter) {
			b.logger.Error().Str("printer_key", printerKey).Msg("Dropped publish command, unknown printer key")
		} else {
			b.logger.Error().Str("topic", topic).Err(err).Msg("Dropped publish command")
		}
		return
	}

	if !b.router.AuthorizeForCloud(cloudTopic) {
		b.logger.Warn().
			Str("cloud_topic", cloudTopic).
			Msg("Rejected publish command, derived topic outside allowed prefix")
		return
	}

	b.publishToCloud(cloudTopic, routing.EncodeCommandPayload(json.RawMessage(payload)), "publish")
}

// publishToCloud performs the single outbound cloud publish of a forward.
func (b *Bridge) publishToCloud(cloudTopic string, payload []byte, form string) {
	if err := b.cloud.Publish(cloudTopic, payload); err != nil {
		b.logger.Error().
			Str("cloud_topic", cloudTopic).
			Str("form", form).
			Err(err).
			Msg("Dropped command, cloud publish failed")
		return
	}

	b.logger.Info().Str("cloud_topic", cloudTopic).Str("form", form).Msg("Forwarded local command to cloud")
}
