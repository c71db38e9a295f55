package anycubic

import "path/filepath"

// TLS artifact filenames expected under the configured certificate directory.
// The names match the files shipped by the Anycubic firmware tooling.
const (
	CACertFileName     = "anycubic_mqqt_tls_ca.crt"
	ClientCertFileName = "anycubic_mqqt_tls_client.crt"
	ClientKeyFileName  = "anycubic_mqqt_tls_client.key"
)

// Credentials holds everything needed to open the TLS MQTT connection to the
// Anycubic cloud broker. Immutable once derived for the life of a connection
// attempt; re-derived only on forced re-authentication.
type Credentials struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	CACertFile     string
	ClientCertFile string
	ClientKeyFile  string
}

// CertPaths returns the expected locations of the three TLS artifacts inside
// the given certificate directory.
func CertPaths(certDir string) (ca, cert, key string) {
	return filepath.Join(certDir, CACertFileName),
		filepath.Join(certDir, ClientCertFileName),
		filepath.Join(certDir, ClientKeyFileName)
}
