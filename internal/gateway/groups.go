package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoIdentifier is returned when the gateway accepts a create call but the
// response carries no usable resource id.
var ErrNoIdentifier = errors.New("no identifier returned from gateway")

const defaultCountry = "Mexico"

type groupRecord struct {
	ID    json.Number `json:"id"`
	AltID json.Number `json:"_id"`
	Name  string      `json:"name"`
}

func (g groupRecord) identifier() int {
	if id, err := g.ID.Int64(); err == nil && id != 0 {
		return int(id)
	}
	if id, err := g.AltID.Int64(); err == nil && id != 0 {
		return int(id)
	}
	return 0
}

// SearchGroupByName looks up a client group by exact name. Returns 0 with no
// error when nothing matches.
func (c *Client) SearchGroupByName(ctx context.Context, name string) (int, error) {
	query := url.Values{}
	query.Set("select", "name")
	query.Set("search.name", fmt.Sprintf("%q", name))

	data, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodGet,
		url:     c.apiBase + "/groups?" + query.Encode(),
		token:   c.token,
		timeout: c.lookupTimeout,
	})
	if err != nil {
		return 0, err
	}

	groups, err := decodeGroupList(data)
	if err != nil {
		return 0, err
	}

	for _, g := range groups {
		if strings.EqualFold(strings.TrimSpace(g.Name), strings.TrimSpace(name)) {
			if id := g.identifier(); id != 0 {
				return id, nil
			}
		}
	}
	// Fall back to the first hit when the upstream search already filtered.
	if len(groups) > 0 {
		if id := groups[0].identifier(); id != 0 {
			return id, nil
		}
	}
	return 0, nil
}

// CreateGroup creates a client group with blank contact fields and the
// default country. Returns the new group id.
func (c *Client) CreateGroup(ctx context.Context, name string) (int, error) {
	payload := map[string]interface{}{
		"name":          name,
		"company_name":  name,
		"address_1":     "",
		"logo":          nil,
		"contact_email": "",
		"contact_name":  name,
		"city":          "",
		"country":       defaultCountry,
	}

	data, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodPost,
		url:     c.apiBase + "/groups",
		token:   c.token,
		body:    payload,
		timeout: c.mutateTimeout,
	})
	if err != nil {
		return 0, err
	}

	var g groupRecord
	if err := json.Unmarshal(data, &g); err != nil {
		return 0, fmt.Errorf("failed to decode group response: %w", err)
	}
	if id := g.identifier(); id != 0 {
		return id, nil
	}
	return 0, ErrNoIdentifier
}

// GroupExists reports whether a group with the given id exists upstream.
func (c *Client) GroupExists(ctx context.Context, id int) (bool, error) {
	_, err := c.do(ctx, callOptions{
		method:  http.MethodGet,
		url:     fmt.Sprintf("%s/groups/%d", c.apiBase, id),
		token:   c.token,
		timeout: c.lookupTimeout,
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsNameConflict reports whether err is an upstream rejection caused by the
// resource name being already taken.
func IsNameConflict(err error) bool {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		return false
	}
	if gwErr.Status != http.StatusBadRequest && gwErr.Status != http.StatusConflict {
		return false
	}
	body := strings.ToLower(gwErr.Body)
	return strings.Contains(body, "exist") ||
		strings.Contains(body, "duplicate") ||
		strings.Contains(body, "taken")
}

func decodeGroupList(data []byte) ([]groupRecord, error) {
	var groups []groupRecord
	if err := json.Unmarshal(data, &groups); err == nil {
		return groups, nil
	}

	var wrapped struct {
		Data   []groupRecord `json:"data"`
		Groups []groupRecord `json:"groups"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode group list: %w", err)
	}
	if len(wrapped.Data) > 0 {
		return wrapped.Data, nil
	}
	return wrapped.Groups, nil
}
