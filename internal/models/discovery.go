package models

// DiscoveryDevice is the Home Assistant device block shared by all entities
// of one printer.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryConfig is a Home Assistant MQTT discovery entity configuration.
type DiscoveryConfig struct {
	Name        string          `json:"name"`
	UniqueID    string          `json:"unique_id"`
	StateTopic  string          `json:"state_topic"`
	DeviceClass string          `json:"device_class,omitempty"`
	PayloadOn   string          `json:"payload_on,omitempty"`
	PayloadOff  string          `json:"payload_off,omitempty"`
	Icon        string          `json:"icon,omitempty"`
	Device      DiscoveryDevice `json:"device"`
}
