package device

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Logger defines the logging interface used by the Collection.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// UpdateFunc observes parameter changes across every device.
// initial is true when the call is a replay from NotifyAllUpdated and
// false for a live update.
type UpdateFunc func(d *Device, p *Parameter, initial bool)

type observer struct {
	handle Handle
	fn     UpdateFunc
}

// Collection holds every device of one portal account, keyed by serial.
//
// Devices are created by ParseInstallations and are never recreated,
// so references held by observers stay valid across reconnects.
//
// All public methods are thread-safe. Observers run outside the lock.
type Collection struct {
	routing Routing

	mu        sync.RWMutex
	devices   map[string]*Device
	observers []observer
	notify    func(body string)
	logger    Logger
}

// NewCollection creates an empty collection that routes live frames with r.
func NewCollection(r Routing) *Collection {
	return &Collection{
		routing: r,
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the collection and devices created afterwards.
func (c *Collection) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Collection) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Routing returns the live feed routing the collection was created with.
func (c *Collection) Routing() Routing {
	return c.routing
}

// Subscribe registers an observer for every parameter of every device.
func (c *Collection) Subscribe(fn UpdateFunc) Handle {
	h := nextHandle()
	c.mu.Lock()
	c.observers = append(c.observers, observer{handle: h, fn: fn})
	c.mu.Unlock()
	return h
}

// Unsubscribe removes the observer registered under h.
// It reports whether an observer was removed.
func (c *Collection) Unsubscribe(h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.observers {
		if o.handle == h {
			c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
			return true
		}
	}
	return false
}

// SetNotificationHandler sets the callback for account notification bodies.
// A nil fn removes it.
func (c *Collection) SetNotificationHandler(fn func(body string)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

func (c *Collection) snapshotObservers() []observer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]observer, len(c.observers))
	copy(out, c.observers)
	return out
}

func (c *Collection) observe(o observer, d *Device, p *Parameter, initial bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("panic in collection observer",
				"serial", d.Serial(), "parameter", p.Name(), "panic", r)
		}
	}()
	o.fn(d, p, initial)
}

// NotifyAllUpdated replays every parameter to every observer with initial=true.
//
// For each observer, devices are visited in serial order and parameters in
// the order they were first seen. After each observer call the parameter's
// own subscribers are notified as well.
func (c *Collection) NotifyAllUpdated() {
	observers := c.snapshotObservers()
	devices := c.Devices()

	for _, o := range observers {
		for _, d := range devices {
			for _, p := range d.Parameters() {
				c.observe(o, d, p, true)
				p.NotifyUpdated()
			}
		}
	}
}

// DeviceBySerial returns the device with the given serial.
// Returns ErrDeviceNotFound if there is none.
func (c *Collection) DeviceBySerial(serial string) (*Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[serial]
	if !ok {
		return nil, fmt.Errorf("%w: serial %q", ErrDeviceNotFound, serial)
	}
	return d, nil
}

// DeviceByID returns the device with the given portal installation id.
// Returns ErrDeviceNotFound if there is none.
func (c *Collection) DeviceByID(id int64) (*Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.devices {
		if d.id == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
}

// Devices returns all devices sorted by serial.
func (c *Collection) Devices() []*Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Device, 0, len(c.devices))
	for _, serial := range slices.Sorted(maps.Keys(c.devices)) {
		out = append(out, c.devices[serial])
	}
	return out
}

// Serials returns all serials in sorted order.
func (c *Collection) Serials() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.devices))
}

// IDs returns all installation ids, ordered by serial.
func (c *Collection) IDs() []int64 {
	devices := c.Devices()
	out := make([]int64, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.id)
	}
	return out
}

// Len returns the number of devices.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}
