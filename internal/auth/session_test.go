package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rmendes/anycubic-cloud-bridge/internal/auth"
	"github.com/rmendes/anycubic-cloud-bridge/pkg/anycubic"
)

// MockResolver mocks the vendor credential resolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, mode anycubic.AuthMode, token, deviceID string) (anycubic.Credentials, error) {
	args := m.Called(ctx, mode, token, deviceID)
	return args.Get(0).(anycubic.Credentials), args.Error(1)
}

// fakeDeviceInfo implements identity.DeviceInfoInterface with a fixed id.
type fakeDeviceInfo struct {
	id          string
	ensureCalls int
}

func (f *fakeDeviceInfo) LoadDeviceInfo() error { return nil }

func (f *fakeDeviceInfo) EnsureDeviceID() (string, error) {
	f.ensureCalls++
	return f.id, nil
}

func (f *fakeDeviceInfo) GetDeviceID() string { return f.id }

// TestSessionManager_Resolve_CachesCredentials tests that credentials are
// derived once and reused across resolves.
func TestSessionManager_Resolve_CachesCredentials(t *testing.T) {
	resolver := new(MockResolver)
	deviceInfo := &fakeDeviceInfo{id: "device-123"}
	expected := anycubic.Credentials{BrokerURL: "ssl://broker:8883", ClientID: "client-1"}

	resolver.On("Resolve", mock.Anything, anycubic.ModeIdentityToken, "user-token", "device-123").
		Return(expected, nil)

	s := auth.NewSessionManager(anycubic.ModeIdentityToken, "user-token", deviceInfo, resolver, zerolog.Nop())

	first, err := s.Resolve(context.Background())
	require.NoError(t, err)
	second, err := s.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, expected, first)
	assert.Equal(t, expected, second)
	resolver.AssertNumberOfCalls(t, "Resolve", 1)
}

// TestSessionManager_Invalidate_ForcesRederivation tests that Invalidate
// drops the cache and the next resolve re-derives.
func TestSessionManager_Invalidate_ForcesRederivation(t *testing.T) {
	resolver := new(MockResolver)
	deviceInfo := &fakeDeviceInfo{id: "device-123"}

	resolver.On("Resolve", mock.Anything, anycubic.ModeIdentityToken, "user-token", "device-123").
		Return(anycubic.Credentials{ClientID: "client-1"}, nil)

	s := auth.NewSessionManager(anycubic.ModeIdentityToken, "user-token", deviceInfo, resolver, zerolog.Nop())

	_, err := s.Resolve(context.Background())
	require.NoError(t, err)

	s.Invalidate()

	_, err = s.Resolve(context.Background())
	require.NoError(t, err)

	resolver.AssertNumberOfCalls(t, "Resolve", 2)
}

// TestSessionManager_Resolve_EmptyToken tests that an empty token is an
// authentication failure before the resolver is ever consulted.
func TestSessionManager_Resolve_EmptyToken(t *testing.T) {
	resolver := new(MockResolver)
	deviceInfo := &fakeDeviceInfo{id: "device-123"}

	s := auth.NewSessionManager(anycubic.ModeIdentityToken, "", deviceInfo, resolver, zerolog.Nop())

	_, err := s.Resolve(context.Background())

	assert.ErrorIs(t, err, anycubic.ErrAuth)
	resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestSessionManager_Resolve_AccessTokenMode tests that access-token mode
// needs no device identity.
func TestSessionManager_Resolve_AccessTokenMode(t *testing.T) {
	resolver := new(MockResolver)
	deviceInfo := &fakeDeviceInfo{id: "device-123"}

	resolver.On("Resolve", mock.Anything, anycubic.ModeAccessToken, "slicer-token", "").
		Return(anycubic.Credentials{ClientID: "slicer-client"}, nil)

	s := auth.NewSessionManager(anycubic.ModeAccessToken, "slicer-token", deviceInfo, resolver, zerolog.Nop())

	creds, err := s.Resolve(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "slicer-client", creds.ClientID)
	assert.Zero(t, deviceInfo.ensureCalls)
}

// TestSessionManager_Resolve_ResolverFailure tests that resolver failures
// are not cached.
func TestSessionManager_Resolve_ResolverFailure(t *testing.T) {
	resolver := new(MockResolver)
	deviceInfo := &fakeDeviceInfo{id: "device-123"}

	resolver.On("Resolve", mock.Anything, anycubic.ModeIdentityToken, "user-token", "device-123").
		Return(anycubic.Credentials{}, errors.New("cloud API unreachable")).Once()
	resolver.On("Resolve", mock.Anything, anycubic.ModeIdentityToken, "user-token", "device-123").
		Return(anycubic.Credentials{ClientID: "client-1"}, nil).Once()

	s := auth.NewSessionManager(anycubic.ModeIdentityToken, "user-token", deviceInfo, resolver, zerolog.Nop())

	_, err := s.Resolve(context.Background())
	assert.Error(t, err)

	creds, err := s.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client-1", creds.ClientID)
}
