package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

// TimestampLayout is the format of "ut" values in installation statuses (UTC).
const TimestampLayout = "2006-01-02 15:04:05"

// Parameter list group names and the record field each is keyed by.
const (
	GroupTemperatures    = "Temperatures"
	GroupInfo            = "Info"
	GroupWeatherForecast = "Weather forecast"
	GroupHeatingCircuits = "Heating circuits"
)

// InstallationID is a portal installation id. The portal sends it as a
// JSON number in some payloads and as a string in others.
type InstallationID int64

// UnmarshalJSON accepts a JSON number or a numeric string.
func (id *InstallationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: installation id %s", ErrProtocolViolation, data)
	}
	*id = InstallationID(n)
	return nil
}

// Installation is one entry of the installation autocomplete list.
type Installation struct {
	ID      InstallationID `json:"value"`
	Serial  string         `json:"label"`
	Place   string         `json:"place"`
	Address string         `json:"address"`
	Type    string         `json:"type"`
	Product string         `json:"product"`
}

// InstallationStatus is the status of one installation, group name to raw payload.
// Known groups are "installation" and "params".
type InstallationStatus map[string]json.RawMessage

// StatusParam is one entry of the "params" status group.
// UT is nil, a TimestampLayout string, or epoch seconds.
type StatusParam struct {
	V  any `json:"v"`
	UT any `json:"ut"`
}

type installationInfo struct {
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// ParameterList is the parameter-list payload of one installation,
// top-level key to raw payload. Known keys are "city" and "parameters".
type ParameterList map[string]json.RawMessage

// ParameterGroup is one group of the "parameters" entry.
type ParameterGroup struct {
	Group string   `json:"group"`
	List  []Record `json:"list"`
}

// WidgetGrid is the widget-grid response. Grid holds an embedded JSON document.
type WidgetGrid struct {
	ID   any    `json:"id"`
	Grid string `json:"grid"`
}

type gridDocument struct {
	Widgets  []Record `json:"widgets"`
	Widgets2 []Record `json:"widgets2"`
}

// Snapshot is the HTTP state of one account.
type Snapshot struct {
	Installations  []Installation
	Statuses       map[string]InstallationStatus
	ParameterLists map[string]ParameterList
	Grid           WidgetGrid
}

// Load ingests s as one unit. It is first applied to an empty staging
// collection; if any part is rejected there, c is left untouched. A
// failure while applying to c removes the devices this call created.
func (c *Collection) Load(s Snapshot) error {
	staged := NewCollection(c.routing)
	if err := staged.apply(s); err != nil {
		return err
	}

	c.mu.RLock()
	var created []string
	for _, inst := range s.Installations {
		if _, ok := c.devices[inst.Serial]; !ok {
			created = append(created, inst.Serial)
		}
	}
	c.mu.RUnlock()

	if err := c.apply(s); err != nil {
		c.remove(created)
		return err
	}
	return nil
}

func (c *Collection) apply(s Snapshot) error {
	c.ParseInstallations(s.Installations)
	if err := c.ParseInstallationStatuses(s.Statuses); err != nil {
		return err
	}
	if err := c.ParseParameterLists(s.ParameterLists); err != nil {
		return err
	}
	return c.ParseGrid(s.Grid)
}

func (c *Collection) remove(serials []string) {
	if len(serials) == 0 {
		return
	}
	c.mu.Lock()
	for _, serial := range serials {
		delete(c.devices, serial)
	}
	c.mu.Unlock()
	c.log().Warn("snapshot rejected, dropped new devices", "count", len(serials))
}

// ParseInstallations creates a device for every installation not seen
// before. Known devices keep their identity; only the static attributes
// are refreshed, so calling it again is harmless.
func (c *Collection) ParseInstallations(installations []Installation) {
	logger := c.log()

	for _, inst := range installations {
		c.mu.Lock()
		d, ok := c.devices[inst.Serial]
		if !ok {
			d = newDevice(int64(inst.ID), inst.Serial, c.logger)
			c.devices[inst.Serial] = d
		}
		c.mu.Unlock()

		if !ok {
			logger.Info("device created", "serial", inst.Serial, "id", int64(inst.ID), "type", inst.Type)
		} else if d.id != int64(inst.ID) {
			logger.Warn("installation id changed, keeping original",
				"serial", inst.Serial, "id", d.id, "reported_id", int64(inst.ID))
		}
		d.setStatic(inst)
	}
}

// ParseInstallationStatuses applies statuses keyed by installation id.
// Parameters in the "params" group are updated, notifying their subscribers.
//
// Returns ErrDeviceNotFound for an unknown id and ErrProtocolViolation
// for an unknown group or a malformed entry.
func (c *Collection) ParseInstallationStatuses(statuses map[string]InstallationStatus) error {
	for _, key := range slices.Sorted(maps.Keys(statuses)) {
		var id InstallationID
		if err := id.UnmarshalJSON([]byte(key)); err != nil {
			return err
		}
		d, err := c.DeviceByID(int64(id))
		if err != nil {
			return err
		}

		status := statuses[key]
		for _, group := range slices.Sorted(maps.Keys(status)) {
			if err := c.applyStatusGroup(d, group, status[group]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Collection) applyStatusGroup(d *Device, group string, raw json.RawMessage) error {
	switch group {
	case "installation":
		var info installationInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return fmt.Errorf("%w: installation status of %s: %w", ErrProtocolViolation, d.serial, err)
		}
		d.setLocation(info.Country, info.CountryCode)

	case "params":
		var params map[string]StatusParam
		if err := json.Unmarshal(raw, &params); err != nil {
			return fmt.Errorf("%w: params of %s: %w", ErrProtocolViolation, d.serial, err)
		}
		for _, name := range slices.Sorted(maps.Keys(params)) {
			at, err := ParseTimestamp(params[name].UT)
			if err != nil {
				return fmt.Errorf("parameter %s of %s: %w", name, d.serial, err)
			}
			d.UpdateParameter(name, params[name].V, at)
		}

	default:
		return fmt.Errorf("%w: unknown installation status group %q", ErrProtocolViolation, group)
	}
	return nil
}

// ParseParameterLists applies parameter lists keyed by serial.
//
// Returns ErrDeviceNotFound for an unknown serial and ErrProtocolViolation
// for an unknown key or group.
func (c *Collection) ParseParameterLists(lists map[string]ParameterList) error {
	for _, serial := range slices.Sorted(maps.Keys(lists)) {
		d, err := c.DeviceBySerial(serial)
		if err != nil {
			return err
		}

		list := lists[serial]
		for _, key := range slices.Sorted(maps.Keys(list)) {
			switch key {
			case "city":
				d.setCity(rawString(list[key]))
			case "parameters":
				var groups []ParameterGroup
				if err := json.Unmarshal(list[key], &groups); err != nil {
					return fmt.Errorf("%w: parameter list of %s: %w", ErrProtocolViolation, serial, err)
				}
				for _, g := range groups {
					if err := applyParameterGroup(d, g); err != nil {
						return err
					}
				}
			default:
				return fmt.Errorf("%w: unknown parameter list key %q", ErrProtocolViolation, key)
			}
		}
	}
	return nil
}

func applyParameterGroup(d *Device, g ParameterGroup) error {
	var (
		group map[string]Record
		field string
	)
	switch g.Group {
	case GroupTemperatures:
		group, field = d.temperatures, "dbindex"
	case GroupInfo:
		group, field = d.info, "installation_status"
	case GroupWeatherForecast:
		group, field = d.weather, "naslov"
	case GroupHeatingCircuits:
		group, field = d.circuits, "naslov"
	default:
		return fmt.Errorf("%w: unknown parameter list group %q", ErrProtocolViolation, g.Group)
	}

	for _, r := range g.List {
		key, ok := recordKey(r, field)
		if !ok {
			return fmt.Errorf("%w: %s record of %s without %q", ErrProtocolViolation, g.Group, d.serial, field)
		}
		d.setRecord(group, key, r)
	}
	return nil
}

// ParseGrid distributes the widgets of the embedded grid document to the
// devices named by each widget's data.installation. An empty grid is ignored.
func (c *Collection) ParseGrid(grid WidgetGrid) error {
	if grid.Grid == "" {
		return nil
	}

	var doc gridDocument
	if err := json.Unmarshal([]byte(grid.Grid), &doc); err != nil {
		return fmt.Errorf("%w: widget grid: %w", ErrProtocolViolation, err)
	}

	for _, w := range slices.Concat(doc.Widgets, doc.Widgets2) {
		id, ok := recordKey(w, "id")
		if !ok {
			return fmt.Errorf("%w: widget without id", ErrProtocolViolation)
		}
		data, _ := w["data"].(map[string]any)
		inst, ok := recordKey(Record(data), "installation")
		if !ok {
			return fmt.Errorf("%w: widget %s without data.installation", ErrProtocolViolation, id)
		}
		var instID InstallationID
		if err := instID.UnmarshalJSON([]byte(inst)); err != nil {
			return err
		}
		d, err := c.DeviceByID(int64(instID))
		if err != nil {
			return err
		}
		d.setRecord(d.widgets, id, w)
	}
	return nil
}

// ParseTimestamp converts a status "ut" value to a time.
// nil and "" yield the zero time, which Parameter.Update treats as now.
func ParseTimestamp(ut any) (time.Time, error) {
	switch v := ut.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.ParseInLocation(TimestampLayout, v, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrProtocolViolation, v)
		}
		return t, nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrProtocolViolation, v)
		}
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: timestamp of type %T", ErrProtocolViolation, ut)
	}
}

// recordKey renders r[field] as a map key. Numbers print without a fraction.
func recordKey(r Record, field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	switch k := v.(type) {
	case string:
		return k, true
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64), true
	default:
		return fmt.Sprint(k), true
	}
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
