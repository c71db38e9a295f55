package mqtt

import (
	"crypto/tls"
	"errors"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// ErrConnectTimeout is returned when the broker does not answer the CONNECT
// handshake within the configured timeout.
var ErrConnectTimeout = errors.New("mqtt: connect timed out")

// MessageHandler is the callback signature for inbound messages.
type MessageHandler func(topic string, payload []byte)

// TransportConfig holds the parameters for one connection attempt.
type TransportConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TLS            *tls.Config
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// Transport is the narrow contract a Link needs from an MQTT client. The
// paho implementation is the production transport; tests substitute fakes.
type Transport interface {
	Connect() error
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	IsConnected() bool
}

// TransportFactory builds a Transport for a single connection attempt.
// onConnectionLost is invoked once if the established connection drops.
type TransportFactory func(cfg TransportConfig, onConnectionLost func(error)) Transport

// pahoTransport adapts paho.mqtt.golang to the Transport interface.
//
// Automatic reconnection is disabled: the Link's supervision loop owns the
// retry and backoff policy, so each transport handles exactly one session.
type pahoTransport struct {
	client         pahomqtt.Client
	connectTimeout time.Duration
}

// NewPahoTransport is the production TransportFactory.
func NewPahoTransport(cfg TransportConfig, onConnectionLost func(error)) Transport {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(cfg.KeepAlive)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		onConnectionLost(err)
	})

	return &pahoTransport{
		client:         pahomqtt.NewClient(opts),
		connectTimeout: cfg.ConnectTimeout,
	}
}

func (t *pahoTransport) Connect() error {
	token := t.client.Connect()
	if !token.WaitTimeout(t.connectTimeout) {
		return ErrConnectTimeout
	}
	return token.Error()
}

func (t *pahoTransport) Disconnect(quiesce uint) {
	t.client.Disconnect(quiesce)
}

func (t *pahoTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := t.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(t.connectTimeout) {
		return ErrConnectTimeout
	}
	return token.Error()
}

func (t *pahoTransport) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := t.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(t.connectTimeout) {
		return ErrConnectTimeout
	}
	return token.Error()
}

func (t *pahoTransport) IsConnected() bool {
	return t.client.IsConnected()
}

// IsAuthRejection reports whether a connect error is a broker-side
// credential rejection rather than a transport failure.
func IsAuthRejection(err error) bool {
	return errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) ||
		errors.Is(err, packets.ErrorRefusedIDRejected)
}
