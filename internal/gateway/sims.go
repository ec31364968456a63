// services/install/internal/gateway/sims.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// SimRecord is a SIM as reported by one of the gateway instances. Some
// instances use *_sid keys, others *_id; both are accepted.
type SimRecord struct {
	Sid         string `json:"sid"`
	Iccid       string `json:"iccid"`
	Status      string `json:"status"`
	FleetSid    string `json:"fleet_sid"`
	FleetID     string `json:"fleet_id"`
	AccountSid  string `json:"account_sid"`
	AccountID   string `json:"account_id"`
	DateCreated string `json:"date_created"`
	DateUpdated string `json:"date_updated"`
}

// Fleet returns the fleet identifier under either key convention.
func (s *SimRecord) Fleet() string {
	if s.FleetSid != "" {
		return s.FleetSid
	}
	return s.FleetID
}

// Account returns the account identifier under either key convention.
func (s *SimRecord) Account() string {
	if s.AccountSid != "" {
		return s.AccountSid
	}
	return s.AccountID
}

// FindSim looks up a SIM by ICCID on a single gateway instance within the
// given product family ("supersims" or "wireless"). Returns nil with no
// error when the instance does not hold the SIM.
func (c *Client) FindSim(ctx context.Context, inst Instance, family, iccid string) (*SimRecord, error) {
	query := url.Values{}
	query.Set("Iccid", iccid)

	data, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodGet,
		url:     fmt.Sprintf("%s/m2m/%s/v1/Sims?%s", c.apiBase, family, query.Encode()),
		token:   inst.Token,
		timeout: c.lookupTimeout,
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	sims, err := decodeSimList(data)
	if err != nil {
		return nil, err
	}
	if len(sims) == 0 {
		return nil, nil
	}
	return &sims[0], nil
}

// SetSimStatus changes a SIM's lifecycle status on the instance that holds
// it. This is the single mutating call of SIM activation.
func (c *Client) SetSimStatus(ctx context.Context, inst Instance, family, sid, status string) (*SimRecord, error) {
	data, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodPost,
		url:     fmt.Sprintf("%s/m2m/%s/v1/Sims/%s", c.apiBase, family, url.PathEscape(sid)),
		token:   inst.Token,
		body:    map[string]string{"Status": status},
		timeout: c.mutateTimeout,
	})
	if err != nil {
		return nil, err
	}

	var sim SimRecord
	if err := json.Unmarshal(data, &sim); err != nil {
		return nil, fmt.Errorf("failed to decode sim response: %w", err)
	}
	return &sim, nil
}

func decodeSimList(data []byte) ([]SimRecord, error) {
	var sims []SimRecord
	if err := json.Unmarshal(data, &sims); err == nil {
		return sims, nil
	}

	var wrapped struct {
		Sims []SimRecord `json:"sims"`
		Data []SimRecord `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode sim list: %w", err)
	}
	if len(wrapped.Sims) > 0 {
		return wrapped.Sims, nil
	}
	return wrapped.Data, nil
}
