package device

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/stomp"
)

// Routing describes how live feed frames are addressed.
type Routing struct {
	// DeviceTopic is the destination prefix of per-device topics.
	DeviceTopic string

	// PerTypeTopics selects "<DeviceTopic><type>.<serial>" destinations;
	// otherwise destinations are "<DeviceTopic><serial>".
	PerTypeTopics bool

	// NotificationDestination is the account notification queue.
	NotificationDestination string

	DeviceSubscriptionID       string
	NotificationSubscriptionID string
}

// DefaultRouting returns the routing used by the public portal.
func DefaultRouting() Routing {
	return Routing{
		DeviceTopic:                "/topic/cm.inst.",
		PerTypeTopics:              true,
		NotificationDestination:    "/queue/notification",
		DeviceSubscriptionID:       "sub-1",
		NotificationSubscriptionID: "sub-0",
	}
}

// Destination returns the live feed topic for d.
func (r Routing) Destination(d *Device) string {
	if r.PerTypeTopics {
		return r.DeviceTopic + d.Type() + "." + d.Serial()
	}
	return r.DeviceTopic + d.Serial()
}

// serialFromDestination extracts the serial from a device topic: the text
// after the last '.' of whatever follows the prefix.
func (r Routing) serialFromDestination(destination string) (string, error) {
	rest, ok := strings.CutPrefix(destination, r.DeviceTopic)
	if !ok {
		return "", fmt.Errorf("%w: unexpected destination %q", ErrProtocolViolation, destination)
	}
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		rest = rest[i+1:]
	}
	if rest == "" {
		return "", fmt.Errorf("%w: no serial in destination %q", ErrProtocolViolation, destination)
	}
	return rest, nil
}

// ParseRealTimeFrame applies one live feed frame.
//
// Frames on the device subscription carry a JSON object of parameter name
// to value. Each entry is applied with UpdateParameter, creating unknown
// parameters, and then passed to every observer with initial=false.
// Frames on the notification subscription go to the notification handler.
//
// Returns:
//   - ErrProtocolViolation: missing headers, unknown subscription, foreign destination, bad body
//   - ErrDeviceNotFound: the destination names a serial not in the collection
func (c *Collection) ParseRealTimeFrame(frame stomp.Frame) error {
	subscription, okSub := frame.Lookup(stomp.HeaderSubscription)
	destination, okDest := frame.Lookup(stomp.HeaderDestination)
	if !okSub || !okDest {
		return fmt.Errorf("%w: %s frame without subscription or destination", ErrProtocolViolation, frame.Command)
	}

	switch subscription {
	case c.routing.DeviceSubscriptionID:
		serial, err := c.routing.serialFromDestination(destination)
		if err != nil {
			return err
		}
		d, err := c.DeviceBySerial(serial)
		if err != nil {
			return err
		}
		return c.applyRealTimeData(d, frame.Body)

	case c.routing.NotificationSubscriptionID:
		c.log().Info("notification received", "destination", destination, "body", frame.Body)
		c.mu.RLock()
		notify := c.notify
		c.mu.RUnlock()
		if notify != nil {
			notify(frame.Body)
		}
		return nil

	default:
		return fmt.Errorf("%w: unexpected subscription %q", ErrProtocolViolation, subscription)
	}
}

func (c *Collection) applyRealTimeData(d *Device, body string) error {
	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return fmt.Errorf("%w: live data for %s: %w", ErrProtocolViolation, d.serial, err)
	}

	observers := c.snapshotObservers()
	for _, name := range slices.Sorted(maps.Keys(data)) {
		p := d.UpdateParameter(name, data[name], time.Time{})
		for _, o := range observers {
			c.observe(o, d, p, false)
		}
	}
	return nil
}
