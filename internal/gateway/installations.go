// services/install/internal/gateway/installations.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// confirmationFlags are the review items reported to the gateway when an
// installation is confirmed.
var confirmationFlags = []string{
	"valid_position",
	"io_pwr",
	"io_ign",
	"io_in1",
	"io_out1",
}

const (
	confirmAttempts  = 2
	confirmBaseDelay = 2 * time.Second
)

// InstallationRecord is the gateway's installation order. The upstream wire
// format uses Spanish field names for the insured party and vehicle.
type InstallationRecord struct {
	ID        json.Number     `json:"id"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
	Insured   *Insured        `json:"persona,omitempty"`
	Vehicle   *InsuredVehicle `json:"vehiculo,omitempty"`
}

type Insured struct {
	FirstName string `json:"nombreAsegurado"`
	LastName  string `json:"apellidoPaterno"`
}

type InsuredVehicle struct {
	VIN string `json:"serie"`
}

// ClientName assembles the insured party's display name, empty when absent.
func (r *InstallationRecord) ClientName() string {
	if r.Insured == nil {
		return ""
	}
	name := r.Insured.FirstName
	if r.Insured.LastName != "" {
		if name != "" {
			name += " "
		}
		name += r.Insured.LastName
	}
	return name
}

// VIN returns the insured vehicle's serial number, empty when absent.
func (r *InstallationRecord) VIN() string {
	if r.Vehicle == nil {
		return ""
	}
	return r.Vehicle.VIN
}

// GetInstallation fetches a single installation record by id.
func (c *Client) GetInstallation(ctx context.Context, installationID string) (*InstallationRecord, error) {
	data, err := c.do(ctx, callOptions{
		method:  http.MethodGet,
		url:     c.servicesBase + "/installations/api/v1/installation/" + url.PathEscape(installationID),
		token:   c.token,
		bearer:  true,
		timeout: c.lookupTimeout,
	})
	if err != nil {
		return nil, err
	}

	var record InstallationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode installation record: %w", err)
	}
	return &record, nil
}

// ListInstallations fetches all installation records.
func (c *Client) ListInstallations(ctx context.Context) ([]InstallationRecord, error) {
	data, err := c.doWithRetry(ctx, callOptions{
		method:  http.MethodGet,
		url:     c.servicesBase + "/installations/api/v1/installation",
		token:   c.token,
		bearer:  true,
		timeout: c.lookupTimeout,
	})
	if err != nil {
		return nil, err
	}

	var records []InstallationRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapped struct {
		Data []InstallationRecord `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode installation list: %w", err)
	}
	return wrapped.Data, nil
}

// ConfirmInstallation marks an installation as reviewed and finished. The
// confirmation endpoint has its own retry policy: two attempts with a delay
// growing per attempt, and 4xx rejections are never retried since they mean
// the record cannot be confirmed, not that the call flaked.
func (c *Client) ConfirmInstallation(ctx context.Context, installationID string) (json.RawMessage, error) {
	target := fmt.Sprintf("%s/installations/api/v1/review/%s/confirmation?finish=true",
		c.servicesBase, url.PathEscape(installationID))

	var lastErr error
	for attempt := 1; attempt <= confirmAttempts; attempt++ {
		data, err := c.do(ctx, callOptions{
			method:  http.MethodPost,
			url:     target,
			token:   c.token,
			bearer:  true,
			body:    confirmationFlags,
			timeout: c.mutateTimeout,
		})
		if err == nil {
			if len(data) == 0 {
				return json.RawMessage(`{}`), nil
			}
			return json.RawMessage(data), nil
		}
		lastErr = err

		if status := StatusOf(err); status >= 400 && status < 500 {
			return nil, err
		}
		if attempt < confirmAttempts {
			delay := confirmBaseDelay * time.Duration(attempt)
			c.logger.WithError(err).WithFields(logrus.Fields{
				"installation_id": installationID,
				"attempt":         attempt,
				"delay":           delay.String(),
			}).Warn("Confirmation call failed, retrying")
			c.sleep(delay)
		}
	}

	return nil, lastErr
}

// Health probes the gateway's services endpoint and reports reachability
// with round-trip latency.
func (c *Client) Health(ctx context.Context) (int, time.Duration, error) {
	start := time.Now()
	_, err := c.do(ctx, callOptions{
		method:  http.MethodGet,
		url:     c.servicesBase + "/health",
		token:   c.token,
		bearer:  true,
		timeout: c.lookupTimeout,
	})
	elapsed := time.Since(start)

	if err != nil {
		if status := StatusOf(err); status != 0 {
			return status, elapsed, err
		}
		return 0, elapsed, err
	}
	return http.StatusOK, elapsed, nil
}
