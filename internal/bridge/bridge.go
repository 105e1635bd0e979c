package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/9a4gl/centrometal-web-boiler/internal/device"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/mqtt"
)

const (
	// commandTimeout bounds one portal control request.
	commandTimeout = 15 * time.Second

	// refreshTimeout bounds a full refresh sequence across all devices.
	refreshTimeout = 2 * time.Minute

	commandQoS = 1
)

// Publisher is the MQTT surface used by the bridge.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// History stores parameter values. *influxdb.Client satisfies it.
// It is optional.
type History interface {
	WriteParameter(serial, name string, value any, at time.Time) bool
	WriteConnectivity(username string, connected bool)
}

// Controller is the session surface the bridge drives.
// *session.Controller satisfies it.
type Controller interface {
	Devices() *device.Collection
	SetPower(ctx context.Context, serial string, on bool) error
	SetCircuitPower(ctx context.Context, serial string, circuit int, on bool) error
	Refresh(ctx context.Context, delay time.Duration) bool
}

// Logger is the logging surface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the collaborators of a Bridge.
type Options struct {
	// Topics is the topic layout; usually mqtt.Client.Topics().
	Topics mqtt.Topics

	// Publisher is the MQTT client.
	Publisher Publisher

	// Controller is the session controller owning the devices.
	Controller Controller

	// History is optional parameter storage.
	History History

	// Username tags connectivity history.
	Username string

	// RefreshDelay is passed to Controller.Refresh.
	RefreshDelay time.Duration

	// Logger is optional.
	Logger Logger
}

// Bridge mirrors boiler state to MQTT and turns MQTT commands into
// portal control requests.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	topics     mqtt.Topics
	publisher  Publisher
	controller Controller
	history    History
	username   string
	delay      time.Duration
	logger     Logger

	mu       sync.Mutex
	observer device.Handle
	started  bool

	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a bridge. Call Start to begin mirroring.
func New(opts Options) (*Bridge, error) {
	if opts.Publisher == nil {
		return nil, errors.New("bridge: publisher is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("bridge: controller is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		topics:     opts.Topics,
		publisher:  opts.Publisher,
		controller: opts.Controller,
		history:    opts.History,
		username:   opts.Username,
		delay:      opts.RefreshDelay,
		logger:     logger,
		ctx:        ctx,
		ctxCancel:  cancel,
	}, nil
}

// commandTopics lists the subscriptions owned by the bridge.
func (b *Bridge) commandTopics() []string {
	return []string{b.topics.AllPowerSet(), b.topics.AllCircuitSet(), b.topics.Refresh()}
}

// Start publishes device info, registers the parameter observer and the
// notification handler, then subscribes to the command topics.
// Device configuration must already be loaded.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	devices := b.controller.Devices()
	b.observer = devices.Subscribe(b.HandleUpdate)
	b.mu.Unlock()

	devices.SetNotificationHandler(b.HandleNotification)

	for _, d := range devices.Devices() {
		if err := b.publisher.PublishJSON(b.topics.DeviceInfo(d.Serial()), newDeviceInfo(d), true); err != nil {
			b.logger.Warn("publishing device info failed", "serial", d.Serial(), "error", err)
		}
	}

	for _, topic := range b.commandTopics() {
		if err := b.publisher.Subscribe(topic, commandQoS, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
	}

	b.logger.Info("bridge started", "devices", devices.Len(), "prefix", b.topics.Prefix())
	return nil
}

// Stop unsubscribes everything, cancels in-flight commands and waits
// for them to return.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		// Cancel under mu so handleCommand cannot add to wg after Wait starts.
		b.mu.Lock()
		b.ctxCancel()
		started := b.started
		b.mu.Unlock()

		if started {
			devices := b.controller.Devices()
			devices.Unsubscribe(b.observer)
			devices.SetNotificationHandler(nil)
			for _, topic := range b.commandTopics() {
				if err := b.publisher.Unsubscribe(topic); err != nil {
					b.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
				}
			}
		}

		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

// HandleUpdate publishes a parameter update. Values pushed by devices
// are also written to history; replays are not.
func (b *Bridge) HandleUpdate(d *device.Device, p *device.Parameter, initial bool) {
	snap := p.Snapshot()
	if snap.Value == device.UnknownValue {
		return
	}

	msg := ParameterMessage{Value: snap.Value, Timestamp: snap.Timestamp, Initial: initial}
	if err := b.publisher.PublishJSON(b.topics.Parameter(d.Serial(), snap.Name), msg, true); err != nil {
		b.logger.Warn("publishing parameter failed", "serial", d.Serial(), "parameter", snap.Name, "error", err)
	}

	if b.history != nil && !initial {
		b.history.WriteParameter(d.Serial(), snap.Name, snap.Value, time.Unix(snap.Timestamp, 0))
	}
}

// HandleConnectivity publishes the live feed state.
func (b *Bridge) HandleConnectivity(connected bool) {
	status := StatusOffline
	if connected {
		status = StatusOnline
	}

	msg := ConnectivityMessage{Status: status, Timestamp: time.Now().UTC()}
	if err := b.publisher.PublishJSON(b.topics.Connectivity(), msg, true); err != nil {
		b.logger.Warn("publishing connectivity failed", "status", status, "error", err)
	}
	if b.history != nil {
		b.history.WriteConnectivity(b.username, connected)
	}
}

// HandleNotification forwards a portal notification body.
func (b *Bridge) HandleNotification(body string) {
	msg := NotificationMessage{Body: body, Timestamp: time.Now().UTC()}
	if err := b.publisher.PublishJSON(b.topics.Notification(), msg, false); err != nil {
		b.logger.Warn("publishing notification failed", "error", err)
	}
}

// handleCommand validates a command message and runs it in the
// background so the MQTT router is never blocked on the portal.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	cmd, ok := b.topics.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}

	var on bool
	if cmd.Kind != mqtt.CommandRefresh {
		var err error
		if on, err = ParseSwitch(payload); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx.Err() != nil {
		return nil
	}

	b.logger.Info("received command", "topic", topic, "on", on)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.execute(cmd, on)
	}()
	return nil
}

func (b *Bridge) execute(cmd mqtt.Command, on bool) {
	switch cmd.Kind {
	case mqtt.CommandPower:
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()
		if err := b.controller.SetPower(ctx, cmd.Serial, on); err != nil {
			b.logger.Error("power command failed", "serial", cmd.Serial, "on", on, "error", err)
		}
	case mqtt.CommandCircuit:
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()
		if err := b.controller.SetCircuitPower(ctx, cmd.Serial, cmd.Circuit, on); err != nil {
			b.logger.Error("circuit command failed", "serial", cmd.Serial, "circuit", cmd.Circuit, "on", on, "error", err)
		}
	case mqtt.CommandRefresh:
		ctx, cancel := context.WithTimeout(b.ctx, refreshTimeout)
		defer cancel()
		if !b.controller.Refresh(ctx, b.delay) {
			b.logger.Warn("refresh failed")
		}
	default:
		b.logger.Warn("unhandled command", "kind", cmd.Kind)
	}
}
