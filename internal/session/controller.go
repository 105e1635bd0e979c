package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/9a4gl/centrometal-web-boiler/internal/device"
	"github.com/9a4gl/centrometal-web-boiler/internal/portal"
)

// Portal is the HTTP side of a session. *portal.Client satisfies it.
type Portal interface {
	Username() string
	Login(ctx context.Context) error
	Reinitialize() error

	Installations(ctx context.Context) ([]device.Installation, error)
	Configuration(ctx context.Context) (map[string]any, error)
	WidgetGridList(ctx context.Context) (portal.WidgetGridList, error)
	WidgetGrid(ctx context.Context, id string) (device.WidgetGrid, error)
	InstallationStatusAll(ctx context.Context, ids []int64) (map[string]device.InstallationStatus, error)
	ParameterList(ctx context.Context, serial string) (device.ParameterList, error)
	Notifications(ctx context.Context) error

	RefreshDevice(ctx context.Context, id int64) (portal.ControlResponse, error)
	RstatAllDevice(ctx context.Context, id int64) (portal.ControlResponse, error)
	TurnDevice(ctx context.Context, id int64, on bool) (portal.ControlResponse, error)
	TurnCircuit(ctx context.Context, id int64, circuit int, on bool) (portal.ControlResponse, error)
	TableData(ctx context.Context, id int64, start, sub int) (portal.ControlResponse, error)
}

var _ Portal = (*portal.Client)(nil)

// Logger interface for optional logging support.
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

// Options tunes live feed behaviour.
type Options struct {
	Reconnect ReconnectPolicy

	// RefreshOnConnect requests fresh values from every device after
	// each successful connect.
	RefreshOnConnect bool

	// RefreshDelay is the pause between refresh steps.
	RefreshDelay time.Duration
}

// DefaultRefreshDelay is the pause between refresh steps when none is set.
const DefaultRefreshDelay = 2 * time.Second

// Controller drives one portal account: login, the HTTP snapshot, the
// live feed lifecycle and control commands.
//
// Each live feed connection gets a fresh Transport. Events from a
// superseded Transport are ignored, so a late disconnect of an old
// connection never flips the state of the current one.
//
// Thread Safety: all public methods are safe for concurrent use.
type Controller struct {
	portal  Portal
	devices *device.Collection
	factory TransportFactory
	opts    Options
	logger  Logger

	loggedIn  atomic.Bool
	connected atomic.Bool

	mu            sync.Mutex
	transport     Transport
	generation    uint64
	observer      device.Handle
	hasObserver   bool
	connectivity  func(connected bool)
	autoReconnect bool
	closing       bool
	attempts      int
	loopID        uint64
	cancelLoop    context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller for one account.
//
// Parameters:
//   - p: Portal HTTP client, owned exclusively by the controller
//   - routing: Live feed topic layout
//   - factory: Creates one Transport per connection attempt
//   - opts: Reconnect and refresh behaviour
func New(p Portal, routing device.Routing, factory TransportFactory, opts Options) *Controller {
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		portal:  p,
		devices: device.NewCollection(routing),
		factory: factory,
		opts:    opts,
		logger:  noopLogger{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetLogger sets the logger for the controller and its device collection.
func (c *Controller) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
	c.devices.SetLogger(logger)
}

// Devices returns the device collection of the account.
func (c *Controller) Devices() *device.Collection {
	return c.devices
}

// IsConnected reports whether the live feed is connected.
func (c *Controller) IsConnected() bool {
	return c.connected.Load()
}

// SetConnectivityCallback registers fn to be told about every connect
// and disconnect of the live feed. nil removes it.
func (c *Controller) SetConnectivityCallback(fn func(connected bool)) {
	c.mu.Lock()
	c.connectivity = fn
	c.mu.Unlock()
}

func (c *Controller) notifyConnectivity(connected bool) {
	c.mu.Lock()
	fn := c.connectivity
	c.mu.Unlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in connectivity callback", "panic", r)
		}
	}()
	fn(connected)
}

// Login signs in to the portal.
func (c *Controller) Login(ctx context.Context) error {
	c.logger.Info("logging in", "user", c.portal.Username())
	if err := c.portal.Login(ctx); err != nil {
		c.loggedIn.Store(false)
		return err
	}
	c.loggedIn.Store(true)
	return nil
}

// Relogin discards the HTTP session, cookies included, and signs in again.
// The live feed is not touched.
func (c *Controller) Relogin(ctx context.Context) error {
	c.loggedIn.Store(false)
	if err := c.portal.Reinitialize(); err != nil {
		return fmt.Errorf("reinitializing http session: %w", err)
	}
	return c.Login(ctx)
}

// GetConfiguration loads the account snapshot into the device collection.
//
// It returns false with a nil error when the account has no devices.
// All fetches run concurrently and are cancelled together on the first
// failure. The collection is only touched once every fetch succeeded,
// and a snapshot the collection rejects leaves it as it was.
func (c *Controller) GetConfiguration(ctx context.Context) (bool, error) {
	if !c.loggedIn.Load() {
		return false, ErrNotLoggedIn
	}

	installations, err := c.portal.Installations(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching installations: %w", err)
	}
	if len(installations) == 0 {
		c.logger.Warn("account has no installed device", "user", c.portal.Username())
		return false, nil
	}

	ids := make([]int64, 0, len(installations))
	serials := make([]string, 0, len(installations))
	for _, inst := range installations {
		ids = append(ids, int64(inst.ID))
		serials = append(serials, inst.Serial)
	}

	var gridList portal.WidgetGridList
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cfg, err := c.portal.Configuration(gctx)
		if err != nil {
			return fmt.Errorf("fetching configuration: %w", err)
		}
		c.logger.Debug("account configuration", "keys", len(cfg))
		return nil
	})
	g.Go(func() error {
		var err error
		if gridList, err = c.portal.WidgetGridList(gctx); err != nil {
			return fmt.Errorf("fetching widget grid list: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	var (
		grid     device.WidgetGrid
		statuses map[string]device.InstallationStatus
		listsMu  sync.Mutex
		lists    = make(map[string]device.ParameterList, len(serials))
	)
	g, gctx = errgroup.WithContext(ctx)
	if id := gridList.SelectedID(); id != "" {
		g.Go(func() error {
			var err error
			if grid, err = c.portal.WidgetGrid(gctx, id); err != nil {
				return fmt.Errorf("fetching widget grid %s: %w", id, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		if statuses, err = c.portal.InstallationStatusAll(gctx, ids); err != nil {
			return fmt.Errorf("fetching installation status: %w", err)
		}
		return nil
	})
	for _, serial := range serials {
		g.Go(func() error {
			list, err := c.portal.ParameterList(gctx, serial)
			if err != nil {
				return fmt.Errorf("fetching parameter list %s: %w", serial, err)
			}
			listsMu.Lock()
			lists[serial] = list
			listsMu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		if err := c.portal.Notifications(gctx); err != nil {
			return fmt.Errorf("fetching notifications: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	err = c.devices.Load(device.Snapshot{
		Installations:  installations,
		Statuses:       statuses,
		ParameterLists: lists,
		Grid:           grid,
	})
	if err != nil {
		return false, fmt.Errorf("loading snapshot: %w", err)
	}

	c.logger.Info("configuration loaded",
		"user", c.portal.Username(),
		"devices", c.devices.Len(),
	)
	return true, nil
}

// StartWebsocket registers onUpdate as the collection observer, replacing
// any earlier registration, and starts a new live feed connection.
//
// ctx bounds the dial only. With autoReconnect, unrequested disconnects
// are retried under the configured ReconnectPolicy, and so is a failed
// first dial; the error is still returned.
//
// Returns:
//   - error: ErrNoConfiguration before GetConfiguration, ErrClosed after
//     Close, or the transport's start error
func (c *Controller) StartWebsocket(ctx context.Context, onUpdate device.UpdateFunc, autoReconnect bool) error {
	if c.devices.Len() == 0 {
		return ErrNoConfiguration
	}
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	c.logger.Info("starting live feed", "user", c.portal.Username(), "auto_reconnect", autoReconnect)

	c.mu.Lock()
	if c.hasObserver {
		c.devices.Unsubscribe(c.observer)
		c.hasObserver = false
	}
	if onUpdate != nil {
		c.observer = c.devices.Subscribe(onUpdate)
		c.hasObserver = true
	}
	c.autoReconnect = autoReconnect
	c.closing = false
	c.attempts = 0
	c.stopReconnectLocked()
	c.mu.Unlock()

	if _, err := c.startTransport(ctx); err != nil {
		c.mu.Lock()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return err
	}
	return nil
}

// CloseWebsocket closes the live feed. It never triggers a reconnect.
// Closing an already closed feed succeeds.
func (c *Controller) CloseWebsocket() error {
	c.mu.Lock()
	c.closing = true
	c.stopReconnectLocked()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	c.logger.Info("closing live feed", "user", c.portal.Username())
	return t.Close()
}

// StopWebsocket disables auto-reconnect and closes the live feed.
func (c *Controller) StopWebsocket() error {
	c.mu.Lock()
	c.autoReconnect = false
	c.mu.Unlock()
	return c.CloseWebsocket()
}

// Close stops the live feed and waits for background work to finish.
//
// Cancellation happens under c.mu so no background task can be added to
// the wait group once Close has started waiting.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	err := c.StopWebsocket()
	c.wg.Wait()
	return err
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// startTransport supersedes the current transport with a new one and starts it.
func (c *Controller) startTransport(ctx context.Context) (Transport, error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.generation++
	h := &connection{ctrl: c, gen: c.generation}
	t := c.factory(h)
	h.transport = t
	old := c.transport
	c.transport = t
	c.mu.Unlock()

	if old != nil {
		old.Close() //nolint:errcheck // superseded connection
		if c.connected.CompareAndSwap(true, false) {
			c.notifyConnectivity(false)
		}
	}

	if err := t.Start(ctx); err != nil {
		c.logger.Warn("live feed start failed", "user", c.portal.Username(), "error", err)
		return nil, err
	}
	return t, nil
}

// scheduleReconnectLocked starts the reconnect loop unless one is running
// or reconnecting is not wanted. Caller must hold c.mu.
func (c *Controller) scheduleReconnectLocked() {
	if !c.autoReconnect || c.closing || c.cancelLoop != nil || c.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.loopID++
	c.cancelLoop = cancel
	c.wg.Add(1)
	go c.reconnectLoop(ctx, c.loopID)
}

// stopReconnectLocked cancels the reconnect loop. Caller must hold c.mu.
func (c *Controller) stopReconnectLocked() {
	if c.cancelLoop == nil {
		return
	}
	c.cancelLoop()
	c.cancelLoop = nil
	c.loopID++
}

// reconnectLoop re-establishes the live feed until it is cancelled or
// the policy gives up. A connection that comes up resets the attempt
// count; the loop then waits for it to end and starts over.
func (c *Controller) reconnectLoop(ctx context.Context, id uint64) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.loopID == id && c.cancelLoop != nil {
			c.cancelLoop()
			c.cancelLoop = nil
		}
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		delay, ok := c.opts.Reconnect.Delay(attempt)
		if !ok {
			c.logger.Error("max reconnect attempts reached",
				"user", c.portal.Username(),
				"attempts", attempt-1,
			)
			return
		}

		c.logger.Info("reconnecting live feed",
			"user", c.portal.Username(),
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		t, err := c.startTransport(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-t.Done():
		}
	}
}

// goRefresh runs Refresh in the background, bounded by the controller's lifetime.
func (c *Controller) goRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if !c.Refresh(c.ctx, c.opts.RefreshDelay) {
			c.logger.Warn("refresh after connect failed", "user", c.portal.Username())
		}
	}()
}
