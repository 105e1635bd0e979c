package portal

import (
	"context"
	"fmt"
	"strconv"
)

// Control endpoints.
const (
	controlMultiplePath = "/api/inst/control/multiple"
	controlPrefix       = "/api/inst/control/"
	controlAdvPrefix    = "/api/inst/control/advanced/"
)

// StatusSuccess is the status of an accepted control command.
const StatusSuccess = "success"

// ControlResponse is the decoded answer to a control command.
type ControlResponse map[string]any

// Status returns the "status" field, or "" when absent.
func (r ControlResponse) Status() string {
	s, _ := r["status"].(string)
	return s
}

// Succeeded reports whether the portal accepted the command.
func (r ControlResponse) Succeeded() bool {
	return r.Status() == StatusSuccess
}

func onOff(on bool) int {
	if on {
		return 1
	}
	return 0
}

// controlMultiple sends one message map to a single installation.
func (c *Client) controlMultiple(ctx context.Context, id int64, message map[string]any) (ControlResponse, error) {
	payload := map[string]any{
		"messages": map[string]any{strconv.FormatInt(id, 10): message},
	}
	var resp ControlResponse
	if err := c.postJSON(ctx, controlMultiplePath, payload, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("control sent", "id", id, "message", message, "status", resp.Status())
	return resp, nil
}

// RefreshDevice asks the installation to push fresh values.
func (c *Client) RefreshDevice(ctx context.Context, id int64) (ControlResponse, error) {
	return c.controlMultiple(ctx, id, map[string]any{"REFRESH": 0})
}

// RstatAllDevice asks the installation to report every status value.
func (c *Client) RstatAllDevice(ctx context.Context, id int64) (ControlResponse, error) {
	return c.controlMultiple(ctx, id, map[string]any{"RSTAT": "ALL"})
}

// TurnCircuit switches one heating circuit on or off.
func (c *Client) TurnCircuit(ctx context.Context, id int64, circuit int, on bool) (ControlResponse, error) {
	return c.controlMultiple(ctx, id, map[string]any{"PWR " + strconv.Itoa(circuit): onOff(on)})
}

// TurnDevice switches the whole installation on or off.
func (c *Client) TurnDevice(ctx context.Context, id int64, on bool) (ControlResponse, error) {
	payload := map[string]any{"cmd-name": "CMD", "cmd-value": onOff(on)}
	var resp ControlResponse
	if err := c.postJSON(ctx, controlPrefix+strconv.FormatInt(id, 10), payload, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("control sent", "id", id, "cmd", "CMD", "on", on, "status", resp.Status())
	return resp, nil
}

// TableData requests one row of a parameter table: "PRD start" is read
// as VAL and "PRD start+sub" as ALV. Values arrive on the live feed.
func (c *Client) TableData(ctx context.Context, id int64, start, sub int) (ControlResponse, error) {
	if start < 0 || sub < 1 {
		return nil, fmt.Errorf("invalid table index %d+%d", start, sub)
	}
	payload := map[string]any{
		"parameters": map[string]string{
			"PRD " + strconv.Itoa(start):     "VAL",
			"PRD " + strconv.Itoa(start+sub): "ALV",
		},
	}
	var resp ControlResponse
	if err := c.postJSON(ctx, controlAdvPrefix+strconv.FormatInt(id, 10), payload, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
