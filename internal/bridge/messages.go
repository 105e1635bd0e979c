package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/9a4gl/centrometal-web-boiler/internal/device"
)

// ParameterMessage is the retained payload of a parameter topic.
// Topic: <prefix>/<serial>/parameter/<name>
type ParameterMessage struct {
	// Value is the raw parameter value as received from the portal.
	Value any `json:"value"`

	// Timestamp is the portal's update time in epoch seconds.
	Timestamp int64 `json:"timestamp"`

	// Initial is true when the value is replayed after a (re)connect
	// rather than pushed by the device.
	Initial bool `json:"initial"`
}

// DeviceInfoMessage is the retained payload of a device info topic.
// Topic: <prefix>/<serial>/info
type DeviceInfoMessage struct {
	ID          int64  `json:"id"`
	Serial      string `json:"serial"`
	Type        string `json:"type"`
	Product     string `json:"product,omitempty"`
	Place       string `json:"place,omitempty"`
	Address     string `json:"address,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	City        string `json:"city,omitempty"`
}

// ConnectivityMessage is the retained payload of the connectivity topic.
type ConnectivityMessage struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationMessage carries one portal notification body.
type NotificationMessage struct {
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Connectivity status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

func newDeviceInfo(d *device.Device) DeviceInfoMessage {
	return DeviceInfoMessage{
		ID:          d.ID(),
		Serial:      d.Serial(),
		Type:        d.Type(),
		Product:     d.Product(),
		Place:       d.Place(),
		Address:     d.Address(),
		Country:     d.Country(),
		CountryCode: d.CountryCode(),
		City:        d.City(),
	}
}

// ParseSwitch decodes a power command payload. ON/OFF, 1/0 and
// true/false are accepted in any case.
func ParseSwitch(payload []byte) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON", "1", "TRUE":
		return true, nil
	case "OFF", "0", "FALSE":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
}
