package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rmendes/anycubic-cloud-bridge/pkg/anycubic"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/identity"
)

// SessionManager owns the cloud authentication session: the operating mode,
// the secret token, the device identity, and the credentials derived from
// them. Credentials are derived once and reused for every connection attempt
// until Invalidate forces a re-derivation.
type SessionManager struct {
	mode       anycubic.AuthMode
	token      string
	deviceInfo identity.DeviceInfoInterface
	resolver   anycubic.Resolver
	logger     zerolog.Logger

	mu          sync.Mutex
	credentials *anycubic.Credentials
}

// NewSessionManager creates a SessionManager for the given mode and token.
func NewSessionManager(
	mode anycubic.AuthMode,
	token string,
	deviceInfo identity.DeviceInfoInterface,
	resolver anycubic.Resolver,
	logger zerolog.Logger,
) *SessionManager {
	return &SessionManager{
		mode:       mode,
		token:      token,
		deviceInfo: deviceInfo,
		resolver:   resolver,
		logger:     logger,
	}
}

// Resolve returns the session's broker credentials, deriving them on first
// use. Safe for concurrent use; derivation and cache invalidation run under
// one mutex so the cloud link never observes partially refreshed state.
func (s *SessionManager) Resolve(ctx context.Context) (anycubic.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.credentials != nil {
		return *s.credentials, nil
	}

	if s.token == "" {
		return anycubic.Credentials{}, fmt.Errorf("%w: empty token for mode %s", anycubic.ErrAuth, s.mode)
	}

	deviceID := ""
	if s.mode == anycubic.ModeIdentityToken {
		id, err := s.deviceInfo.EnsureDeviceID()
		if err != nil {
			return anycubic.Credentials{}, fmt.Errorf("failed to establish device identity: %w", err)
		}
		deviceID = id
	}

	credentials, err := s.resolver.Resolve(ctx, s.mode, s.token, deviceID)
	if err != nil {
		return anycubic.Credentials{}, err
	}

	s.credentials = &credentials
	s.logger.Info().
		Str("mode", string(s.mode)).
		Str("client_id", credentials.ClientID).
		Msg("Cloud session credentials resolved")

	return credentials, nil
}

// Invalidate drops the cached credentials so the next Resolve re-derives
// them. Called when the cloud broker rejects the session's credentials.
func (s *SessionManager) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.credentials == nil {
		return
	}

	s.credentials = nil
	s.logger.Warn().Str("mode", string(s.mode)).Msg("Cloud session credentials invalidated, will re-authenticate")
}

// Token returns the session's token, used for cloud API calls outside the
// MQTT connection.
func (s *SessionManager) Token() string {
	return s.token
}
