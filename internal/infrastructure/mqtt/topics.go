package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the root of every bridge topic.
const DefaultPrefix = "iobridge"

// Topics builds the bridge's topic tree:
//
//	{prefix}/state/{adapter}/{device}/{point}    outbound events (retained)
//	{prefix}/command/{adapter}/{device}/{point}  inbound commands
//	{prefix}/io/{adapter}/{device}/{point}       point registration (retained)
//	{prefix}/io/{adapter}/complete               registration complete
//	{prefix}/health/{bridgeID}                   health report (retained)
//	{prefix}/status/{clientID}                   presence / Last Will (retained)
//
// A zero Topics uses DefaultPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// State returns the event topic for a device point.
//
// Example: iobridge/state/philipsHue/Light1/brightness
func (t Topics) State(adapter, device, point string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", t.prefix(), adapter, device, point)
}

// Command returns the command topic for a device point.
//
// Example: iobridge/command/mpd/kitchen/volume
func (t Topics) Command(adapter, device, point string) string {
	return fmt.Sprintf("%s/command/%s/%s/%s", t.prefix(), adapter, device, point)
}

// AllCommands returns the subscription pattern for every command.
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+/+/+", t.prefix())
}

// IO returns the registration topic for a device point.
func (t Topics) IO(adapter, device, point string) string {
	return fmt.Sprintf("%s/io/%s/%s/%s", t.prefix(), adapter, device, point)
}

// IOComplete returns the topic signalling that an adapter finished registering.
func (t Topics) IOComplete(adapter string) string {
	return fmt.Sprintf("%s/io/%s/complete", t.prefix(), adapter)
}

// Health returns the health topic for a bridge instance.
func (t Topics) Health(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", t.prefix(), bridgeID)
}

// Status returns the presence topic for an MQTT client.
func (t Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/status/%s", t.prefix(), clientID)
}

// ParseCommand splits a command topic into adapter, device and point.
// ok is false for topics outside the command tree.
func (t Topics) ParseCommand(topic string) (adapter, device, point string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", false
		}
	}
	return parts[0], parts[1], parts[2], true
}

// ValidSegment reports whether s can be used as a single topic level.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
