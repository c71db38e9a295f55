package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse marks a malformed local command payload. The message is dropped;
// no cloud publish is attempted.
var ErrParse = errors.New("routing: malformed command payload")

// ErrNotAuthorized marks a topic outside the allowed cloud prefix. The
// message is dropped, never truncated or rewritten.
var ErrNotAuthorized = errors.New("routing: topic outside allowed cloud prefix")

// ErrUnknownPrinter marks a publish-by-key command naming a printer key with
// no known machine-type metadata. The mapping is rejected, never guessed.
var ErrUnknownPrinter = errors.New("routing: unknown printer key")

// MachineLookup resolves a printer key to its machine type. The printer
// registry implements it; tests substitute fixed maps.
type MachineLookup interface {
	Lookup(printerKey string) (machineType string, ok bool)
}

// RawCommand is the payload of the raw-forward local command: an explicit
// target cloud topic plus an arbitrary JSON body.
type RawCommand struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// LocalKind classifies an inbound local topic.
type LocalKind int

const (
	KindUnhandled LocalKind = iota
	KindRaw
	KindPublishByKey
)

// Router holds the pure translation and authorization rules of the bridge.
// All methods are side-effect free.
type Router struct {
	baseTopic   string
	allowPrefix string
	machines    MachineLookup
}

// NewRouter creates a Router for the given local base topic and cloud allow
// prefix.
func NewRouter(baseTopic, allowPrefix string, machines MachineLookup) *Router {
	return &Router{
		baseTopic:   baseTopic,
		allowPrefix: allowPrefix,
		machines:    machines,
	}
}

// CloudToLocal maps a cloud topic to its local mirror topic. Total function:
// separators are preserved verbatim and no escaping or normalization is
// applied, so distinct cloud topics always yield distinct local topics.
func (r *Router) CloudToLocal(cloudTopic string) string {
	return r.baseTopic + "/cloud/" + cloudTopic
}

// RawCommandTopic returns the local topic carrying raw-forward commands.
func (r *Router) RawCommandTopic() string {
	return r.baseTopic + "/to_cloud/raw"
}

// PublishCommandFilter returns the subscription filter for publish-by-key
// commands.
func (r *Router) PublishCommandFilter() string {
	return r.baseTopic + "/to_cloud/publish/#"
}

// ClassifyLocal determines which command form, if any, an inbound local
// topic carries.
func (r *Router) ClassifyLocal(topic string) LocalKind {
	switch {
	case topic == r.RawCommandTopic():
		return KindRaw
	case strings.HasPrefix(topic, r.baseTopic+"/to_cloud/publish/"):
		return KindPublishByKey
	default:
		return KindUnhandled
	}
}

// ParseRawCommand decodes a raw-forward payload. The payload must be a JSON
// object with a non-empty string "topic"; "payload" is carried through as
// arbitrary JSON.
func (r *Router) ParseRawCommand(payload []byte) (RawCommand, error) {
	var cmd RawCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return RawCommand{}, fmt.Errorf("%w: %s", ErrParse, err)
	}
	if cmd.Topic == "" {
		return RawCommand{}, fmt.Errorf("%w: missing or empty topic field", ErrParse)
	}
	return cmd, nil
}

// SplitPublishTopic extracts the printer key and endpoint from a local
// publish-by-key topic of the form <base>/to_cloud/publish/<key>/<endpoint>.
// The endpoint may span multiple segments.
func (r *Router) SplitPublishTopic(localTopic string) (printerKey, endpoint string, err error) {
	parts := strings.Split(localTopic, "/")
	marker := -1
	for i, part := range parts {
		if part == "publish" {
			marker = i
			break
		}
	}
	if marker < 0 || len(parts) < marker+3 {
		return "", "", fmt.Errorf("%w: publish topic %q lacks printer key or endpoint", ErrParse, localTopic)
	}

	printerKey = parts[marker+1]
	endpoint = strings.Join(parts[marker+2:], "/")
	if printerKey == "" || endpoint == "" {
		return "", "", fmt.Errorf("%w: publish topic %q lacks printer key or endpoint", ErrParse, localTopic)
	}

	return printerKey, endpoint, nil
}

// BuildPublishTopic composes the cloud publish topic for a printer key and
// endpoint using the machine-type metadata from the lookup.
func (r *Router) BuildPublishTopic(printerKey, endpoint string) (string, error) {
	machineType, ok := r.machines.Lookup(printerKey)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPrinter, printerKey)
	}

	return r.allowPrefix + machineType + "/" + printerKey + "/" + endpoint, nil
}

// AuthorizeForCloud reports whether a topic may be published to the cloud
// broker. This is the single security gate for local-origin messages: only
// topics under the vendor's public printer-command prefix pass.
func (r *Router) AuthorizeForCloud(topic string) bool {
	return strings.HasPrefix(topic, r.allowPrefix)
}

// EncodeCommandPayload converts a command's JSON payload into the cloud
// message body: JSON strings are unwrapped to their raw text, everything
// else is forwarded as-is.
func EncodeCommandPayload(payload json.RawMessage) []byte {
	if len(payload) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return []byte(s)
	}

	return []byte(payload)
}
