package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Publish when the link is not in the
// connected state. The message is dropped; there is no queueing or retry.
var ErrNotConnected = errors.New("mqtt: link not connected")

// LinkState describes where a link is in its connection lifecycle.
type LinkState int

const (
	StateDisconnected LinkState = iota
	StateConnecting
	StateConnected
	StateBackingOff
)

// String returns the lowercase name of the state.
func (s LinkState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing_off"
	default:
		return "unknown"
	}
}

// Subscription is one fixed topic filter a link subscribes to on every
// successful connect.
type Subscription struct {
	Topic string
	QOS   byte
}

// Credentials holds the connection parameters for one attempt.
type Credentials struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLS       *tls.Config
}

// CredentialsProvider supplies credentials before each connection attempt.
// The cloud link backs this with the auth session so a forced refresh takes
// effect on the next attempt; the local link returns static values.
type CredentialsProvider func(ctx context.Context) (Credentials, error)

// Options configures a Link.
type Options struct {
	Role               string
	Credentials        CredentialsProvider
	Subscriptions      []Subscription
	PublishQOS         byte
	ConnectTimeout     time.Duration
	KeepAlive          time.Duration
	BackoffFloor       time.Duration
	BackoffCeiling     time.Duration
	StabilityThreshold time.Duration
	DisconnectQuiesce  uint
}

// Link is a managed MQTT client role with an explicit connection state
// machine: disconnected -> connecting -> connected -> (disconnected |
// backing_off) -> connecting -> ..., terminal only on Close.
//
// Each link supervises exactly one connection; the two links of the bridge
// share no state and fail independently.
type Link struct {
	opts    Options
	factory TransportFactory
	logger  zerolog.Logger

	handler       MessageHandler
	onStateChange func(state LinkState)
	onAuthFailure func(err error)
	callbackMu    sync.RWMutex

	transport Transport
	state     LinkState
	stateMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewLink creates a Link with the given options and transport factory.
func NewLink(opts Options, factory TransportFactory, logger zerolog.Logger) *Link {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	if opts.BackoffFloor <= 0 {
		opts.BackoffFloor = time.Second
	}
	if opts.BackoffCeiling <= 0 {
		opts.BackoffCeiling = 2 * time.Minute
	}
	if opts.StabilityThreshold <= 0 {
		opts.StabilityThreshold = 30 * time.Second
	}
	if opts.DisconnectQuiesce == 0 {
		opts.DisconnectQuiesce = 250
	}

	return &Link{
		opts:    opts,
		factory: factory,
		logger:  logger,
		state:   StateDisconnected,
	}
}

// Role returns the link's role name.
func (l *Link) Role() string {
	return l.opts.Role
}

// OnMessage registers the single handler invoked for every inbound message
// matching the subscribed filters. Delivery order is the transport's order;
// no reordering or deduplication is performed. Must be called before Start.
func (l *Link) OnMessage(handler MessageHandler) {
	l.callbackMu.Lock()
	l.handler = handler
	l.callbackMu.Unlock()
}

// OnStateChange registers an observer for state transitions.
func (l *Link) OnStateChange(fn func(state LinkState)) {
	l.callbackMu.Lock()
	l.onStateChange = fn
	l.callbackMu.Unlock()
}

// OnAuthFailure registers a callback invoked when the broker rejects the
// link's credentials during CONNECT.
func (l *Link) OnAuthFailure(fn func(err error)) {
	l.callbackMu.Lock()
	l.onAuthFailure = fn
	l.callbackMu.Unlock()
}

// State returns the current connection state.
func (l *Link) State() LinkState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// Start launches the supervision loop in a separate goroutine.
func (l *Link) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx != nil {
		l.logger.Warn().Str("role", l.opts.Role).Msg("Link is already running")
		return fmt.Errorf("%s link is already running", l.opts.Role)
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.supervise()
	}()

	l.logger.Info().Str("role", l.opts.Role).Msg("Link supervision started")
	return nil
}

// Close stops the supervision loop and disconnects the transport. In-flight
// publishes get a short quiesce period but are not awaited beyond it.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx == nil {
		return
	}

	l.cancel()
	l.wg.Wait()

	l.ctx = nil
	l.cancel = nil

	l.logger.Info().Str("role", l.opts.Role).Msg("Link closed")
}

// Publish hands the payload to the transport for at-most-once delivery.
// Fails immediately with ErrNotConnected when the link is not connected.
func (l *Link) Publish(topic string, payload []byte) error {
	return l.publish(topic, payload, false)
}

// PublishRetained publishes with the retained flag set, used for discovery
// and status topics on the local broker.
func (l *Link) PublishRetained(topic string, payload []byte) error {
	return l.publish(topic, payload, true)
}

func (l *Link) publish(topic string, payload []byte, retained bool) error {
	l.stateMu.RLock()
	transport, state := l.transport, l.state
	l.stateMu.RUnlock()

	if state != StateConnected || transport == nil {
		return fmt.Errorf("%w: %s link is %s", ErrNotConnected, l.opts.Role, state)
	}

	return transport.Publish(topic, l.opts.PublishQOS, retained, payload)
}

// supervise drives the connection state machine until the link is closed.
func (l *Link) supervise() {
	backoff := NewBackoff(l.opts.BackoffFloor, l.opts.BackoffCeiling)

	for {
		if l.ctx.Err() != nil {
			l.setState(StateDisconnected)
			return
		}

		l.setState(StateConnecting)

		lost := make(chan error, 1)
		transport, err := l.attempt(lost)
		if err == nil {
			l.setTransport(transport)
			l.setState(StateConnected)
			connectedAt := time.Now()

			select {
			case lostErr := <-lost:
				l.setTransport(nil)
				l.logger.Warn().Str("role", l.opts.Role).Err(lostErr).Msg("Connection lost")
				if time.Since(connectedAt) >= l.opts.StabilityThreshold {
					backoff.Reset()
				}
			case <-l.ctx.Done():
				transport.Disconnect(l.opts.DisconnectQuiesce)
				l.setTransport(nil)
				l.setState(StateDisconnected)
				return
			}
		} else {
			l.logger.Warn().Str("role", l.opts.Role).Err(err).Msg("Connection attempt failed")
			if IsAuthRejection(err) {
				l.notifyAuthFailure(err)
			}
		}

		l.setState(StateBackingOff)
		delay := backoff.Next()
		l.logger.Info().Str("role", l.opts.Role).Dur("retry_in", delay).Msg("Backing off before reconnect")

		select {
		case <-time.After(delay):
		case <-l.ctx.Done():
			l.setState(StateDisconnected)
			return
		}
	}
}

// attempt resolves credentials, connects, and restores the fixed
// subscriptions. Returns the connected transport or the failure.
func (l *Link) attempt(lost chan error) (Transport, error) {
	ctx, cancel := context.WithTimeout(l.ctx, l.opts.ConnectTimeout)
	defer cancel()

	creds, err := l.opts.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential resolution failed: %w", err)
	}

	cfg := TransportConfig{
		BrokerURL:      creds.BrokerURL,
		ClientID:       creds.ClientID,
		Username:       creds.Username,
		Password:       creds.Password,
		TLS:            creds.TLS,
		ConnectTimeout: l.opts.ConnectTimeout,
		KeepAlive:      l.opts.KeepAlive,
	}

	transport := l.factory(cfg, func(err error) {
		select {
		case lost <- err:
		default:
		}
	})

	if err := transport.Connect(); err != nil {
		return nil, err
	}

	for _, sub := range l.opts.Subscriptions {
		if err := transport.Subscribe(sub.Topic, sub.QOS, l.dispatch); err != nil {
			transport.Disconnect(l.opts.DisconnectQuiesce)
			return nil, fmt.Errorf("failed to subscribe to %s: %w", sub.Topic, err)
		}
	}

	return transport, nil
}

// dispatch forwards an inbound message to the registered handler.
func (l *Link) dispatch(topic string, payload []byte) {
	l.callbackMu.RLock()
	handler := l.handler
	l.callbackMu.RUnlock()

	if handler != nil {
		handler(topic, payload)
	}
}

func (l *Link) setTransport(transport Transport) {
	l.stateMu.Lock()
	l.transport = transport
	l.stateMu.Unlock()
}

func (l *Link) setState(state LinkState) {
	l.stateMu.Lock()
	changed := l.state != state
	l.state = state
	l.stateMu.Unlock()

	if !changed {
		return
	}

	l.callbackMu.RLock()
	observer := l.onStateChange
	l.callbackMu.RUnlock()
	if observer != nil {
		observer(state)
	}
}

func (l *Link) notifyAuthFailure(err error) {
	l.callbackMu.RLock()
	callback := l.onAuthFailure
	l.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}
