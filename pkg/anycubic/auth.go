package anycubic

import (
	"errors"
	"fmt"
)

// ErrAuth marks authentication failures: a bad mode, an empty or rejected
// token, or a credential derivation refused by the cloud API. These are
// distinct from transport failures and are never recovered by reconnecting
// with the same credentials.
var ErrAuth = errors.New("anycubic: authentication failed")

// AuthMode selects how broker credentials are derived.
type AuthMode string

const (
	// ModeIdentityToken authenticates with a long-lived user token plus a
	// device identifier.
	ModeIdentityToken AuthMode = "identity-token"

	// ModeAccessToken authenticates with a pre-issued short-lived access
	// token (Anycubic Slicer); no device identifier is required.
	ModeAccessToken AuthMode = "access-token"
)

// ParseAuthMode converts a configuration string into an AuthMode.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case ModeIdentityToken:
		return ModeIdentityToken, nil
	case ModeAccessToken:
		return ModeAccessToken, nil
	default:
		return "", fmt.Errorf("%w: unrecognized auth mode %q", ErrAuth, s)
	}
}
