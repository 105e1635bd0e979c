package device

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Record is a raw JSON object from the portal, kept as decoded.
type Record map[string]any

// Device is one heating installation known to the portal account.
//
// ID is the portal's numeric installation id, used by control commands.
// Serial addresses the device on the live feed. Neither changes after
// the device is created; everything else is refreshed by ingestion.
//
// All methods are thread-safe.
type Device struct {
	id     int64
	serial string
	logger Logger

	mu          sync.RWMutex
	place       string
	address     string
	typ         string
	product     string
	country     string
	countryCode string
	city        string

	temperatures map[string]Record
	info         map[string]Record
	weather      map[string]Record
	circuits     map[string]Record
	widgets      map[string]Record

	params map[string]*Parameter
	order  []string
}

// Snapshot is a point-in-time copy of a device for serialisation.
type Snapshot struct {
	ID           int64               `json:"id"`
	Serial       string              `json:"serial"`
	Place        string              `json:"place,omitempty"`
	Address      string              `json:"address,omitempty"`
	Type         string              `json:"type"`
	Product      string              `json:"product,omitempty"`
	Country      string              `json:"country,omitempty"`
	CountryCode  string              `json:"country_code,omitempty"`
	City         string              `json:"city,omitempty"`
	Temperatures map[string]Record   `json:"temperatures,omitempty"`
	Info         map[string]Record   `json:"info,omitempty"`
	Weather      map[string]Record   `json:"weather,omitempty"`
	Circuits     map[string]Record   `json:"circuits,omitempty"`
	Widgets      map[string]Record   `json:"widgets,omitempty"`
	Parameters   []ParameterSnapshot `json:"parameters"`
}

func newDevice(id int64, serial string, logger Logger) *Device {
	return &Device{
		id:           id,
		serial:       serial,
		logger:       logger,
		temperatures: make(map[string]Record),
		info:         make(map[string]Record),
		weather:      make(map[string]Record),
		circuits:     make(map[string]Record),
		widgets:      make(map[string]Record),
		params:       make(map[string]*Parameter),
	}
}

// ID returns the portal installation id.
func (d *Device) ID() int64 { return d.id }

// Serial returns the installation serial.
func (d *Device) Serial() string { return d.serial }

// Place returns the installation's place name.
func (d *Device) Place() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.place
}

// Address returns the installation's street address.
func (d *Device) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.address
}

// Type returns the installation type, which also selects its live feed topic.
func (d *Device) Type() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.typ
}

// Product returns the product name.
func (d *Device) Product() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.product
}

// Country returns the country reported in the installation status.
func (d *Device) Country() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.country
}

// CountryCode returns the country code reported in the installation status.
func (d *Device) CountryCode() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.countryCode
}

// City returns the city reported in the parameter list.
func (d *Device) City() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.city
}

// Temperatures returns the temperature records keyed by dbindex.
func (d *Device) Temperatures() map[string]Record { return d.group(func() map[string]Record { return d.temperatures }) }

// Info returns the info records keyed by installation_status.
func (d *Device) Info() map[string]Record { return d.group(func() map[string]Record { return d.info }) }

// Weather returns the weather forecast records keyed by title.
func (d *Device) Weather() map[string]Record { return d.group(func() map[string]Record { return d.weather }) }

// Circuits returns the heating circuit records keyed by title.
func (d *Device) Circuits() map[string]Record { return d.group(func() map[string]Record { return d.circuits }) }

// Widgets returns the dashboard widgets keyed by widget id.
func (d *Device) Widgets() map[string]Record { return d.group(func() map[string]Record { return d.widgets }) }

func (d *Device) group(get func() map[string]Record) map[string]Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneGroup(get())
}

// GetOrCreateParameter returns the named parameter, creating it with
// UnknownValue if it does not exist yet.
func (d *Device) GetOrCreateParameter(name string) *Parameter {
	d.mu.RLock()
	p, ok := d.params[name]
	d.mu.RUnlock()
	if ok {
		return p
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.params[name]; ok {
		return p
	}
	p = newParameter(name, d.logger)
	d.params[name] = p
	d.order = append(d.order, name)
	return p
}

// UpdateParameter sets the named parameter, creating it first if needed.
// A zero at means now. The parameter is returned for chaining.
func (d *Device) UpdateParameter(name string, value any, at time.Time) *Parameter {
	p := d.GetOrCreateParameter(name)
	p.Update(value, at)
	return p
}

// HasParameter reports whether the named parameter exists.
func (d *Device) HasParameter(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.params[name]
	return ok
}

// Parameter returns the named parameter without creating it.
func (d *Device) Parameter(name string) (*Parameter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.params[name]
	return p, ok
}

// Parameters returns all parameters in the order they were first seen.
func (d *Device) Parameters() []*Parameter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Parameter, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.params[name])
	}
	return out
}

// WidgetByTemplate returns the first widget (by widget id) whose template
// matches. Absence is not an error.
func (d *Device) WidgetByTemplate(template string) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range slices.Sorted(maps.Keys(d.widgets)) {
		w := d.widgets[id]
		if t, ok := w["template"]; ok && fmt.Sprint(t) == template {
			return maps.Clone(w), true
		}
	}
	return nil, false
}

// Snapshot returns a copy of all attributes, groups and parameters.
func (d *Device) Snapshot() Snapshot {
	params := d.Parameters()

	d.mu.RLock()
	s := Snapshot{
		ID:           d.id,
		Serial:       d.serial,
		Place:        d.place,
		Address:      d.address,
		Type:         d.typ,
		Product:      d.product,
		Country:      d.country,
		CountryCode:  d.countryCode,
		City:         d.city,
		Temperatures: cloneGroup(d.temperatures),
		Info:         cloneGroup(d.info),
		Weather:      cloneGroup(d.weather),
		Circuits:     cloneGroup(d.circuits),
		Widgets:      cloneGroup(d.widgets),
	}
	d.mu.RUnlock()

	s.Parameters = make([]ParameterSnapshot, 0, len(params))
	for _, p := range params {
		s.Parameters = append(s.Parameters, p.Snapshot())
	}
	return s
}

// setStatic refreshes the attributes carried by the installation list.
func (d *Device) setStatic(inst Installation) {
	d.mu.Lock()
	d.place = inst.Place
	d.address = inst.Address
	d.typ = inst.Type
	d.product = inst.Product
	d.mu.Unlock()
}

func (d *Device) setLocation(country, countryCode string) {
	d.mu.Lock()
	d.country = country
	d.countryCode = countryCode
	d.mu.Unlock()
}

func (d *Device) setCity(city string) {
	d.mu.Lock()
	d.city = city
	d.mu.Unlock()
}

func (d *Device) setRecord(group map[string]Record, key string, r Record) {
	d.mu.Lock()
	group[key] = r
	d.mu.Unlock()
}

func cloneGroup(g map[string]Record) map[string]Record {
	if len(g) == 0 {
		return nil
	}
	out := make(map[string]Record, len(g))
	for k, r := range g {
		out[k] = maps.Clone(r)
	}
	return out
}
