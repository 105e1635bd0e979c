package device

import (
	"sync"
	"sync/atomic"
	"time"
)

// UnknownValue is the value of a parameter that has been created but never updated.
const UnknownValue = "?"

// Handle identifies a registered subscriber. Handles are unique per process.
type Handle uint64

var handleSeq atomic.Uint64

func nextHandle() Handle {
	return Handle(handleSeq.Add(1))
}

// ParameterFunc is called after a parameter changes, or when all
// parameters are replayed. It must not block.
type ParameterFunc func(p *Parameter)

type parameterSubscriber struct {
	handle Handle
	fn     ParameterFunc
}

// Parameter is a single named value reported by a device.
//
// Value and Timestamp are always set together. Subscribers are invoked
// in registration order, outside the parameter's lock.
type Parameter struct {
	name   string
	logger Logger

	mu        sync.RWMutex
	value     any
	timestamp int64
	subs      []parameterSubscriber
}

// ParameterSnapshot is a point-in-time copy of a parameter.
type ParameterSnapshot struct {
	Name      string `json:"name"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

func newParameter(name string, logger Logger) *Parameter {
	return &Parameter{
		name:   name,
		logger: logger,
		value:  UnknownValue,
	}
}

// Name returns the parameter name as used by the portal.
func (p *Parameter) Name() string {
	return p.name
}

// Value returns the current value: float64, string, bool, nil, or UnknownValue.
func (p *Parameter) Value() any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Timestamp returns the time of the last update as epoch seconds (UTC).
// It is zero until the first update.
func (p *Parameter) Timestamp() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timestamp
}

// Snapshot returns a copy of the parameter state.
func (p *Parameter) Snapshot() ParameterSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ParameterSnapshot{
		Name:      p.name,
		Value:     p.value,
		Timestamp: p.timestamp,
	}
}

// Update sets value and timestamp, then notifies every subscriber.
// A zero at means now.
func (p *Parameter) Update(value any, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}

	p.mu.Lock()
	p.value = value
	p.timestamp = at.UTC().Unix()
	p.mu.Unlock()

	p.NotifyUpdated()
}

// NotifyUpdated invokes every subscriber with the current state without changing it.
func (p *Parameter) NotifyUpdated() {
	p.mu.RLock()
	subs := make([]parameterSubscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()

	for _, s := range subs {
		p.call(s.fn)
	}
}

func (p *Parameter) call(fn ParameterFunc) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in parameter subscriber", "parameter", p.name, "panic", r)
		}
	}()
	fn(p)
}

// Subscribe registers fn and returns a handle for Unsubscribe.
func (p *Parameter) Subscribe(fn ParameterFunc) Handle {
	h := nextHandle()
	p.mu.Lock()
	p.subs = append(p.subs, parameterSubscriber{handle: h, fn: fn})
	p.mu.Unlock()
	return h
}

// Unsubscribe removes the subscriber registered under h.
// It reports whether a subscriber was removed.
func (p *Parameter) Unsubscribe(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s.handle == h {
			p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of registered subscribers.
func (p *Parameter) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
