package anycubic

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Vendor endpoints. The cloud API and the MQTT broker are fixed, vendor
// operated hosts; only the credentials presented to them vary.
const (
	defaultAPIBaseURL = "https://cloud-universe.anycubic.com/api/v1"
	defaultBrokerURL  = "ssl://mqtt-universe.anycubic.com:8883"

	pathUserInfo    = "/user/info"
	pathPrinterList = "/printer/list"

	defaultHTTPTimeout = 15 * time.Second
)

// Resolver derives broker connection credentials from an auth mode and token.
// It is the single seam to the vendor credential library; everything behind
// it is opaque to the bridge.
type Resolver interface {
	Resolve(ctx context.Context, mode AuthMode, token, deviceID string) (Credentials, error)
}

// PrinterLister fetches the printers registered to the authenticated account.
type PrinterLister interface {
	ListPrinters(ctx context.Context, token string) ([]Printer, error)
}

// Printer describes one printer registered to the account, as reported by
// the cloud API.
type Printer struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	MachineType string `json:"machine_type"`
	Model       string `json:"model"`
	Status      string `json:"current_status"`
	Online      bool   `json:"printer_online"`
}

// API talks to the Anycubic cloud HTTP API and derives MQTT credentials.
type API struct {
	baseURL    string
	brokerURL  string
	certDir    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewAPI creates an API bound to the vendor endpoints, with TLS material
// taken from certDir.
func NewAPI(certDir string, logger zerolog.Logger) *API {
	return &API{
		baseURL:   defaultAPIBaseURL,
		brokerURL: defaultBrokerURL,
		certDir:   certDir,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		logger: logger,
	}
}

// Resolve validates the token against the cloud API and derives the MQTT
// connection credentials for the given mode.
func (a *API) Resolve(ctx context.Context, mode AuthMode, token, deviceID string) (Credentials, error) {
	if token == "" {
		return Credentials{}, fmt.Errorf("%w: empty token", ErrAuth)
	}

	ca, cert, key := CertPaths(a.certDir)
	creds := Credentials{
		BrokerURL:      a.brokerURL,
		CACertFile:     ca,
		ClientCertFile: cert,
		ClientKeyFile:  key,
	}

	switch mode {
	case ModeIdentityToken:
		if deviceID == "" {
			return Credentials{}, fmt.Errorf("%w: identity-token mode requires a device id", ErrAuth)
		}
		if err := a.verifyToken(ctx, token); err != nil {
			return Credentials{}, err
		}
		creds.ClientID = "ac-device-" + shortDigest(deviceID)
		creds.Username = "device|" + deviceID
		creds.Password = digest(token + "|" + deviceID)
	case ModeAccessToken:
		if err := a.verifyToken(ctx, token); err != nil {
			return Credentials{}, err
		}
		creds.ClientID = "ac-slicer-" + shortDigest(token)
		creds.Username = "slicer|" + shortDigest(token)
		creds.Password = token
	default:
		return Credentials{}, fmt.Errorf("%w: unrecognized auth mode %q", ErrAuth, mode)
	}

	a.logger.Debug().Str("mode", string(mode)).Str("client_id", creds.ClientID).Msg("Derived cloud broker credentials")
	return creds, nil
}

// ListPrinters fetches the account's printers from the cloud API.
func (a *API) ListPrinters(ctx context.Context, token string) ([]Printer, error) {
	var response struct {
		Code int       `json:"code"`
		Msg  string    `json:"msg"`
		Data []Printer `json:"data"`
	}

	if err := a.get(ctx, pathPrinterList, token, &response); err != nil {
		return nil, err
	}
	if response.Code != 0 {
		return nil, fmt.Errorf("printer list request failed: code=%d msg=%s", response.Code, response.Msg)
	}

	return response.Data, nil
}

// verifyToken checks the token against the user info endpoint. A rejection by
// the API is an authentication failure, not a transport error.
func (a *API) verifyToken(ctx context.Context, token string) error {
	var response struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}

	if err := a.get(ctx, pathUserInfo, token, &response); err != nil {
		return err
	}
	if response.Code != 0 {
		return fmt.Errorf("%w: token rejected by cloud API: code=%d msg=%s", ErrAuth, response.Code, response.Msg)
	}

	return nil
}

// get performs an authenticated GET against the cloud API and decodes the
// JSON response into v.
func (a *API) get(ctx context.Context, path, token string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloud API request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: cloud API returned status %d for %s", ErrAuth, resp.StatusCode, path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cloud API returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

// digest returns the hex MD5 of s, matching the vendor's signature scheme.
func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// shortDigest returns the first 16 hex characters of the MD5 of s.
func shortDigest(s string) string {
	return digest(s)[:16]
}
