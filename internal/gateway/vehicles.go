package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type vehicleRecord struct {
	ID    json.Number `json:"id"`
	AltID json.Number `json:"_id"`
	Name  string      `json:"name"`
	VIN   string      `json:"vin"`
}

func (v vehicleRecord) identifier() int {
	if id, err := v.ID.Int64(); err == nil && id != 0 {
		return int(id)
	}
	if id, err := v.AltID.Int64(); err == nil && id != 0 {
		return int(id)
	}
	return 0
}

// CreateVehicle registers a vehicle named after the VIN, linked to the given
// device IMEI and owned by the group. The shared default group is attached
// alongside the client group when configured.
func (c *Client) CreateVehicle(ctx context.Context, name, vin, imei string, groupID int) (int, error) {
	groups := make([]int, 0, 2)
	if c.defaultGroupID != 0 {
		groups = append(groups, c.defaultGroupID)
	}
	groups = append(groups, groupID)

	payload := map[string]interface{}{
		"name":          name,
		"device":        imei,
		"year":          "",
		"make":          "",
		"model":         "",
		"license_plate": "",
		"color":         "",
		"vin":           vin,
		"primary":       groupID,
		"tank_volume":   nil,
		"tank_unit":     nil,
		"groups":        groups,
	}

	data, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodPost,
		url:     c.apiBase + "/vehicles",
		token:   c.token,
		body:    payload,
		timeout: c.mutateTimeout,
	})
	if err != nil {
		return 0, err
	}

	var v vehicleRecord
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("failed to decode vehicle response: %w", err)
	}
	if id := v.identifier(); id != 0 {
		return id, nil
	}
	return 0, ErrNoIdentifier
}

// CountVehiclesByVIN returns how many vehicles upstream carry the given VIN.
func (c *Client) CountVehiclesByVIN(ctx context.Context, vin string) (int, error) {
	query := url.Values{}
	query.Set("vin", vin)

	data, err := c.do(ctx, callOptions{
		method:  http.MethodGet,
		url:     c.apiBase + "/vehicles?" + query.Encode(),
		token:   c.token,
		timeout: c.lookupTimeout,
	})
	if err != nil {
		return 0, err
	}

	var vehicles []vehicleRecord
	if err := json.Unmarshal(data, &vehicles); err == nil {
		return len(vehicles), nil
	}

	var wrapped struct {
		Vehicles []vehicleRecord `json:"vehicles"`
		Data     []vehicleRecord `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return 0, fmt.Errorf("failed to decode vehicle list: %w", err)
	}
	if len(wrapped.Vehicles) > 0 {
		return len(wrapped.Vehicles), nil
	}
	return len(wrapped.Data), nil
}
