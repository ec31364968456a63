// services/install/internal/gateway/devices.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// DeviceSnapshot is the gateway's view of a tracking device: link state,
// latest position and the vehicle it is bound to.
type DeviceSnapshot struct {
	IMEI       json.Number       `json:"imei"`
	Latest     *DeviceLatest     `json:"latest,omitempty"`
	Connection *DeviceConnection `json:"connection,omitempty"`
	LastRx     *DeviceEpoch      `json:"lastrx,omitempty"`
	Vehicle    *DeviceVehicle    `json:"vehicle,omitempty"`
	NetReg     json.RawMessage   `json:"net_reg,omitempty"`
}

type DeviceLatest struct {
	Loc *DeviceLocation `json:"loc,omitempty"`
}

type DeviceLocation struct {
	Valid   bool     `json:"valid"`
	Age     float64  `json:"age"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	EvTime  string   `json:"evtime,omitempty"`
	SysTime string   `json:"systime,omitempty"`
}

type DeviceConnection struct {
	Online bool         `json:"online"`
	Epoch  int64        `json:"_epoch"`
	Last   *DeviceState `json:"last,omitempty"`
}

type DeviceState struct {
	State string `json:"state"`
}

type DeviceEpoch struct {
	Epoch int64 `json:"_epoch"`
}

type DeviceVehicle struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// SegmentStatus describes whether a device already carries a safety-segment
// configuration.
type SegmentStatus struct {
	Found      bool
	Configured bool
	Existing   json.RawMessage
}

// GetDevice fetches the current snapshot of a device by IMEI.
func (c *Client) GetDevice(ctx context.Context, imei string) (*DeviceSnapshot, error) {
	data, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodGet,
		url:     c.apiBase + "/devices/" + url.PathEscape(imei),
		token:   c.token,
		timeout: c.lookupTimeout,
	})
	if err != nil {
		return nil, err
	}

	var snap DeviceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode device snapshot: %w", err)
	}
	return &snap, nil
}

// GetSegmentStatus queries whether the device already has a work-hours
// segment configured.
func (c *Client) GetSegmentStatus(ctx context.Context, imei string) (*SegmentStatus, error) {
	query := url.Values{}
	query.Set("imeis", imei)
	query.Set("select", "segments")

	data, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodGet,
		url:     c.apiBase + "/devices?" + query.Encode(),
		token:   c.token,
		timeout: c.lookupTimeout,
	})
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Data []struct {
			Segments *struct {
				Setup map[string]json.RawMessage `json:"setup"`
			} `json:"segments"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode segment status: %w", err)
	}

	status := &SegmentStatus{}
	if len(wrapped.Data) == 0 {
		return status, nil
	}
	status.Found = true

	entry := wrapped.Data[0]
	if entry.Segments != nil && entry.Segments.Setup != nil {
		if existing, ok := entry.Segments.Setup["hos"]; ok && string(existing) != "null" {
			status.Configured = true
			status.Existing = existing
		}
	}
	return status, nil
}

// SetupWorkHoursSegment pushes the fixed work-hours segment configuration to
// the device.
func (c *Client) SetupWorkHoursSegment(ctx context.Context, imei string) error {
	payload := map[string]interface{}{
		"segment_type":               "hos",
		"signal":                     "speed_distance",
		"max_work_hours":             14,
		"min_rest_hours":             8,
		"max_continuous_work_hours":  5,
		"min_continuous_break_hours": 0.50,
		"min_break_hours":            0.25,
	}

	_, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodPost,
		url:     c.apiBase + "/devices/" + url.PathEscape(imei) + "/remote/segment_setup",
		token:   c.token,
		body:    payload,
		timeout: c.mutateTimeout,
	})
	return err
}
