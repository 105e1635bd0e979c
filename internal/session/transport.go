package session

import (
	"context"

	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/stomp"
)

// Transport is one live feed connection. *stomp.Client satisfies it.
type Transport interface {
	Start(ctx context.Context) error
	Subscribe(destination, id string) error
	Close() error
	Done() <-chan struct{}
}

// TransportFactory creates an unstarted Transport reporting to h.
// The controller calls it once per connection attempt.
type TransportFactory func(h stomp.Handler) Transport

// StompTransport returns a factory creating STOMP-over-WebSocket clients.
func StompTransport(opts stomp.Options, logger stomp.Logger) TransportFactory {
	return func(h stomp.Handler) Transport {
		c := stomp.NewClient(opts, h)
		if logger != nil {
			c.SetLogger(logger)
		}
		return c
	}
}

// connection adapts one Transport's events to the controller.
// Events from a superseded connection are dropped.
type connection struct {
	ctrl      *Controller
	gen       uint64
	transport Transport
}

func (h *connection) OnConnected(frame stomp.Frame) {
	c := h.ctrl
	if !c.isCurrent(h.gen) {
		return
	}

	c.logger.Info("live feed connected",
		"user", c.portal.Username(),
		"version", frame.Header(stomp.HeaderVersion),
	)

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	c.connected.Store(true)
	c.notifyConnectivity(true)

	r := c.devices.Routing()
	if err := h.transport.Subscribe(r.NotificationDestination, r.NotificationSubscriptionID); err != nil {
		c.logger.Warn("subscribe failed", "destination", r.NotificationDestination, "error", err)
	}
	for _, d := range c.devices.Devices() {
		dest := r.Destination(d)
		if err := h.transport.Subscribe(dest, r.DeviceSubscriptionID); err != nil {
			c.logger.Warn("subscribe failed", "destination", dest, "error", err)
		}
	}

	c.devices.NotifyAllUpdated()

	if c.opts.RefreshOnConnect {
		c.goRefresh()
	}
}

func (h *connection) OnDisconnected(code int, reason string) {
	c := h.ctrl
	if !c.isCurrent(h.gen) {
		return
	}

	c.logger.Warn("live feed disconnected",
		"user", c.portal.Username(),
		"code", code,
		"reason", reason,
	)

	c.connected.Store(false)
	c.notifyConnectivity(false)
	c.devices.NotifyAllUpdated()

	c.mu.Lock()
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

func (h *connection) OnError(frame stomp.Frame) {
	h.ctrl.logger.Error("live feed error",
		"user", h.ctrl.portal.Username(),
		"message", frame.Header(stomp.HeaderMessage),
		"body", frame.Body,
	)
}

func (h *connection) OnMessage(frame stomp.Frame) {
	c := h.ctrl
	if !c.isCurrent(h.gen) {
		return
	}
	if err := c.devices.ParseRealTimeFrame(frame); err != nil {
		c.logger.Warn("live frame dropped",
			"destination", frame.Header(stomp.HeaderDestination),
			"error", err,
		)
	}
}

var _ stomp.Handler = (*connection)(nil)

var _ Transport = (*stomp.Client)(nil)
