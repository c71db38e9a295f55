package identity

import (
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/rmendes/anycubic-cloud-bridge/pkg/file"
)

// Identity holds the device identity presented to the Anycubic cloud.
type Identity struct {
	ID   string `json:"device_id,omitempty"`
	Name string `json:"device_name,omitempty"`
}

// DeviceInfoInterface defines methods for managing the device identity.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	EnsureDeviceID() (string, error)
	GetDeviceID() string
}

// DeviceInfo manages the device identity and its optional backing file.
//
// When no identifier is configured or stored, one is generated exactly once
// per process lifetime and reused for every subsequent call, so reconnects
// always present the same identity to the cloud broker.
type DeviceInfo struct {
	configuredID   string
	deviceInfoFile string
	identity       Identity
	fileOps        file.FileOperations
	mu             sync.Mutex
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(configuredID, filePath string, fileOps file.FileOperations) DeviceInfoInterface {
	return &DeviceInfo{
		configuredID:   configuredID,
		deviceInfoFile: filePath,
		fileOps:        fileOps,
	}
}

// LoadDeviceInfo reads the device information from the backing file, if one
// is configured. A missing file is not an error; the identity starts empty.
func (d *DeviceInfo) LoadDeviceInfo() error {
	if d.deviceInfoFile == "" {
		return nil
	}

	err := d.fileOps.ReadJsonFile(d.deviceInfoFile, &d.identity)
	if err != nil {
		if os.IsNotExist(err) {
			d.identity = Identity{}
			return nil
		}
		return err
	}

	return nil
}

// EnsureDeviceID returns the device identifier, generating one if neither
// configuration nor the backing file provided it. The generated identifier
// is persisted only when a device file is configured.
func (d *DeviceInfo) EnsureDeviceID() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.configuredID != "" {
		return d.configuredID, nil
	}
	if d.identity.ID != "" {
		return d.identity.ID, nil
	}

	d.identity.ID = uuid.New().String()

	if d.deviceInfoFile != "" {
		if err := d.fileOps.WriteJsonFile(d.deviceInfoFile, d.identity); err != nil {
			return "", err
		}
	}

	return d.identity.ID, nil
}

// GetDeviceID returns the current device ID without generating one.
func (d *DeviceInfo) GetDeviceID() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.configuredID != "" {
		return d.configuredID
	}
	return d.identity.ID
}
