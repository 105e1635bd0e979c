package influxdb

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementParameters   = "boiler_parameters"
	MeasurementConnectivity = "boiler_connectivity"
)

// WriteParameter records one parameter value of a device.
//
// Only numeric values are stored; the portal reports most of them as
// JSON numbers or numeric strings. Other values (status words, "?") are
// skipped and reported by the false return.
//
// Parameters:
//   - serial: Device serial, stored as tag "serial"
//   - name: Parameter name, stored as tag "parameter"
//   - value: Raw parameter value
//   - at: Sample time; zero means now
//
// Example:
//
//	client.WriteParameter("AB1234", "B_Tk1", 55.0, time.Time{})
func (c *Client) WriteParameter(serial, name string, value any, at time.Time) bool {
	v, ok := NumericValue(value)
	if !ok || !c.IsConnected() {
		return false
	}
	if at.IsZero() {
		at = time.Now()
	}

	point := write.NewPoint(
		MeasurementParameters,
		map[string]string{
			"serial":    serial,
			"parameter": name,
		},
		map[string]any{
			"value": v,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
	return true
}

// WriteConnectivity records a live feed connect (1) or disconnect (0).
func (c *Client) WriteConnectivity(username string, connected bool) {
	if !c.IsConnected() {
		return
	}

	value := 0
	if connected {
		value = 1
	}
	point := write.NewPoint(
		MeasurementConnectivity,
		map[string]string{"user": username},
		map[string]any{"connected": value},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// NumericValue converts a parameter value to float64. It accepts Go
// numbers, json.Number, booleans and numeric strings with either a dot
// or a comma as decimal separator.
func NumericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(strings.Replace(n, ",", ".", 1))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
