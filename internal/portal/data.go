package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/9a4gl/centrometal-web-boiler/internal/device"
)

// Portal data endpoints.
const (
	installationsPath   = "/data/autocomplete/installation"
	configurationPath   = "/api/configuration"
	widgetGridListPath  = "/api/widgets-grid/list"
	widgetGridPath      = "/api/widgets-grid"
	statusAllPath       = "/wdata/data/installation-status-all"
	parameterListPrefix = "/wdata/data/parameter-list/"
	notificationsPath   = "/notifications/data/get"
)

var emptyObject = struct{}{}

// WidgetGridList is the list of dashboard grids; Selected is the active one.
type WidgetGridList struct {
	Selected json.RawMessage `json:"selected"`
	Raw      map[string]any  `json:"-"`
}

// SelectedID returns the selected grid id as the portal expects it back.
func (l WidgetGridList) SelectedID() string {
	s := strings.TrimSpace(string(l.Selected))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(l.Selected, &str); err == nil {
		return str
	}
	return s
}

// Installations returns every installation of the account.
func (c *Client) Installations(ctx context.Context) ([]device.Installation, error) {
	var resp struct {
		Installations []device.Installation `json:"installations"`
	}
	if err := c.postJSON(ctx, installationsPath, emptyObject, &resp); err != nil {
		return nil, err
	}
	return resp.Installations, nil
}

// Configuration returns the account configuration. It is only logged.
func (c *Client) Configuration(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := c.postJSON(ctx, configurationPath, emptyObject, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// WidgetGridList returns the dashboard grid list.
func (c *Client) WidgetGridList(ctx context.Context) (WidgetGridList, error) {
	var raw map[string]json.RawMessage
	if err := c.postJSON(ctx, widgetGridListPath, emptyObject, &raw); err != nil {
		return WidgetGridList{}, err
	}

	list := WidgetGridList{Selected: raw["selected"], Raw: make(map[string]any, len(raw))}
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			list.Raw[k] = decoded
		}
	}
	return list, nil
}

// WidgetGrid returns the grid with the given id.
func (c *Client) WidgetGrid(ctx context.Context, id string) (device.WidgetGrid, error) {
	payload := map[string]string{"id": id, "inst": "null"}
	var grid device.WidgetGrid
	if err := c.postJSON(ctx, widgetGridPath, payload, &grid); err != nil {
		return device.WidgetGrid{}, err
	}
	return grid, nil
}

// InstallationStatusAll returns the status of every listed installation,
// keyed by installation id.
func (c *Client) InstallationStatusAll(ctx context.Context, ids []int64) (map[string]device.InstallationStatus, error) {
	payload := map[string][]int64{"installations": ids}
	var statuses map[string]device.InstallationStatus
	if err := c.postJSON(ctx, statusAllPath, payload, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// ParameterList returns the parameter list of one installation.
func (c *Client) ParameterList(ctx context.Context, serial string) (device.ParameterList, error) {
	if serial == "" || strings.ContainsAny(serial, "/?#") {
		return nil, fmt.Errorf("invalid serial %q", serial)
	}
	var list device.ParameterList
	if err := c.postJSON(ctx, parameterListPrefix+serial, emptyObject, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Notifications fetches the notifications page. The portal expects the
// call during start-up; the HTML response is discarded.
func (c *Client) Notifications(ctx context.Context) error {
	_, err := c.postForm(ctx, notificationsPath, nil)
	return err
}
