package mqtt

import (
	"strconv"
	"strings"
)

// DefaultTopicPrefix is the root of every bridge topic.
const DefaultTopicPrefix = "webboiler"

// Topics builds the bridge's MQTT topics under one prefix.
//
// Layout:
//
//	<prefix>/bridge/status                   retained bridge availability (LWT)
//	<prefix>/bridge/connectivity             retained live feed state: online/offline
//	<prefix>/bridge/notification             portal notifications
//	<prefix>/bridge/refresh                  command: refresh every device
//	<prefix>/<serial>/info                   retained device attributes
//	<prefix>/<serial>/parameter/<name>       retained parameter value
//	<prefix>/<serial>/power/set              command: ON/OFF
//	<prefix>/<serial>/circuit/<n>/set        command: ON/OFF
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix; an empty prefix selects
// DefaultTopicPrefix. Trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	return t.prefix
}

// BridgeStatus returns the bridge availability topic.
//
// Example: webboiler/bridge/status
func (t Topics) BridgeStatus() string {
	return t.prefix + "/bridge/status"
}

// Connectivity returns the live feed connectivity topic.
//
// Example: webboiler/bridge/connectivity
func (t Topics) Connectivity() string {
	return t.prefix + "/bridge/connectivity"
}

// Notification returns the portal notification topic.
func (t Topics) Notification() string {
	return t.prefix + "/bridge/notification"
}

// Refresh returns the refresh command topic.
func (t Topics) Refresh() string {
	return t.prefix + "/bridge/refresh"
}

// DeviceInfo returns the retained attribute topic of a device.
//
// Example: webboiler/AB1234/info
func (t Topics) DeviceInfo(serial string) string {
	return t.prefix + "/" + serial + "/info"
}

// Parameter returns the state topic of one device parameter.
//
// Example: webboiler/AB1234/parameter/B_Tk1
func (t Topics) Parameter(serial, name string) string {
	return t.prefix + "/" + serial + "/parameter/" + name
}

// PowerSet returns the power command topic of a device.
func (t Topics) PowerSet(serial string) string {
	return t.prefix + "/" + serial + "/power/set"
}

// CircuitSet returns the command topic of one heating circuit.
//
// Example: webboiler/AB1234/circuit/2/set
func (t Topics) CircuitSet(serial string, circuit int) string {
	return t.prefix + "/" + serial + "/circuit/" + strconv.Itoa(circuit) + "/set"
}

// AllPowerSet matches the power command topic of every device.
//
// Pattern: webboiler/+/power/set
func (t Topics) AllPowerSet() string {
	return t.prefix + "/+/power/set"
}

// AllCircuitSet matches every circuit command topic.
//
// Pattern: webboiler/+/circuit/+/set
func (t Topics) AllCircuitSet() string {
	return t.prefix + "/+/circuit/+/set"
}

// All matches every bridge topic.
func (t Topics) All() string {
	return t.prefix + "/#"
}

// CommandKind identifies a parsed command topic.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandPower
	CommandCircuit
	CommandRefresh
)

// Command is a parsed command topic.
type Command struct {
	Kind    CommandKind
	Serial  string
	Circuit int
}

// ParseCommand decodes a command topic built by PowerSet, CircuitSet or
// Refresh. Any other topic yields CommandUnknown and false.
func (t Topics) ParseCommand(topic string) (Command, bool) {
	if topic == t.Refresh() {
		return Command{Kind: CommandRefresh}, true
	}

	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return Command{}, false
	}
	parts := strings.Split(rest, "/")
	if parts[0] == "" || parts[0] == "bridge" {
		return Command{}, false
	}

	switch {
	case len(parts) == 3 && parts[1] == "power" && parts[2] == "set":
		return Command{Kind: CommandPower, Serial: parts[0]}, true
	case len(parts) == 4 && parts[1] == "circuit" && parts[3] == "set":
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 {
			return Command{}, false
		}
		return Command{Kind: CommandCircuit, Serial: parts[0], Circuit: n}, true
	}
	return Command{}, false
}
