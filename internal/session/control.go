package session

import (
	"context"
	"fmt"
	"time"

	"github.com/9a4gl/centrometal-web-boiler/internal/portal"
)

// Refresh asks every device to push fresh values: REFRESH, wait,
// RSTAT ALL, wait. The values arrive on the live feed.
//
// Only transport failures count; a rejected command does not stop the
// sequence. Any failure aborts the remaining steps and returns false.
func (c *Controller) Refresh(ctx context.Context, delay time.Duration) bool {
	for _, id := range c.devices.IDs() {
		if _, err := c.portal.RefreshDevice(ctx, id); err != nil {
			c.logger.Error("refresh failed", "user", c.portal.Username(), "id", id, "error", err)
			return false
		}
		if !sleep(ctx, delay) {
			return false
		}
		if _, err := c.portal.RstatAllDevice(ctx, id); err != nil {
			c.logger.Error("rstat failed", "user", c.portal.Username(), "id", id, "error", err)
			return false
		}
		if !sleep(ctx, delay) {
			return false
		}
	}
	return true
}

// Turn switches the device with the given serial on or off.
// It returns false for any failure, including a rejected command.
func (c *Controller) Turn(ctx context.Context, serial string, on bool) bool {
	if err := c.SetPower(ctx, serial, on); err != nil {
		c.logger.Warn("turn failed", "serial", serial, "on", on, "error", err)
		return false
	}
	return true
}

// TurnCircuit switches one heating circuit of a device on or off.
// It returns false for any failure, including a rejected command.
func (c *Controller) TurnCircuit(ctx context.Context, serial string, circuit int, on bool) bool {
	if err := c.SetCircuitPower(ctx, serial, circuit, on); err != nil {
		c.logger.Warn("turn circuit failed", "serial", serial, "circuit", circuit, "on", on, "error", err)
		return false
	}
	return true
}

// SetPower switches a device on or off.
//
// Returns:
//   - error: device.ErrDeviceNotFound, ErrCommandRejected, or a portal error
func (c *Controller) SetPower(ctx context.Context, serial string, on bool) error {
	d, err := c.devices.DeviceBySerial(serial)
	if err != nil {
		return err
	}
	resp, err := c.portal.TurnDevice(ctx, d.ID(), on)
	return checkResponse(resp, err)
}

// SetCircuitPower switches one heating circuit of a device on or off.
//
// Returns:
//   - error: device.ErrDeviceNotFound, ErrCommandRejected, or a portal error
func (c *Controller) SetCircuitPower(ctx context.Context, serial string, circuit int, on bool) error {
	d, err := c.devices.DeviceBySerial(serial)
	if err != nil {
		return err
	}
	resp, err := c.portal.TurnCircuit(ctx, d.ID(), circuit, on)
	return checkResponse(resp, err)
}

// RequestTable reads a parameter table of size rows starting at PRD start.
// Row i (1..size) requests "PRD start" as VAL and "PRD start+i" as ALV;
// the values arrive on the live feed.
func (c *Controller) RequestTable(ctx context.Context, serial string, start, size int) bool {
	d, err := c.devices.DeviceBySerial(serial)
	if err != nil {
		c.logger.Warn("table request failed", "serial", serial, "error", err)
		return false
	}
	for i := 1; i <= size; i++ {
		if err := checkResponse(c.portal.TableData(ctx, d.ID(), start, i)); err != nil {
			c.logger.Warn("table request failed", "serial", serial, "start", start, "row", i, "error", err)
			return false
		}
	}
	return true
}

func checkResponse(resp portal.ControlResponse, err error) error {
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		return fmt.Errorf("%w: status %q", ErrCommandRejected, resp.Status())
	}
	return nil
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
