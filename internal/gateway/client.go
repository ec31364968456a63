// services/install/internal/gateway/client.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/backstage/services/install/config"
	"github.com/sirupsen/logrus"
)

// ErrUnreachable wraps network-class failures (DNS, connect, timeout) after
// retries are exhausted, as opposed to an HTTP error response.
var ErrUnreachable = errors.New("gateway unreachable")

// Error is a non-2xx response from the gateway, carrying the upstream status
// and body verbatim.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway call failed: %d - %s", e.Status, e.Body)
}

// Instance is one of the redundant SIM-holding gateway instances. Search
// order follows the configured order.
type Instance struct {
	Name  string
	Token string
}

// Client issues authenticated HTTP calls against the fleet gateway.
//
// Two endpoint families coexist upstream with different auth schemes:
// resource endpoints (groups/vehicles/devices/SIMs) take a custom
// "Authenticate" header while installation-record endpoints take a standard
// bearer token. Each call site picks the scheme its endpoint requires; the
// mismatch is upstream behavior and is deliberately not normalized here.
type Client struct {
	apiBase        string
	servicesBase   string
	token          string
	instances      []Instance
	defaultGroupID int

	httpClient    *http.Client
	logger        *logrus.Logger
	lookupTimeout time.Duration
	mutateTimeout time.Duration
	maxRetries    int
	retryDelay    time.Duration

	sleep func(time.Duration)
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, logger *logrus.Logger) *Client {
	instances := make([]Instance, 0, len(cfg.Instances))
	for _, ic := range cfg.Instances {
		instances = append(instances, Instance{Name: ic.Name, Token: ic.Token})
	}

	return &Client{
		apiBase:        cfg.APIBaseURL,
		servicesBase:   cfg.ServicesBaseURL,
		token:          cfg.Token,
		instances:      instances,
		defaultGroupID: cfg.DefaultGroupID,
		httpClient:     &http.Client{},
		logger:         logger,
		lookupTimeout:  cfg.LookupTimeout,
		mutateTimeout:  cfg.MutateTimeout,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		sleep:          time.Sleep,
	}
}

// Instances returns the ordered list of SIM-holding gateway instances.
func (c *Client) Instances() []Instance {
	return c.instances
}

type callOptions struct {
	method  string
	url     string
	token   string
	bearer  bool
	body    interface{}
	timeout time.Duration
}

// do issues a single HTTP call and returns the response body. Non-2xx
// responses come back as *Error; network failures are wrapped in
// ErrUnreachable.
func (c *Client) do(ctx context.Context, opt callOptions) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, opt.timeout)
	defer cancel()

	var reqBody io.Reader
	if opt.body != nil {
		data, err := json.Marshal(opt.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, opt.method, opt.url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if opt.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opt.bearer {
		req.Header.Set("Authorization", "Bearer "+opt.token)
	} else {
		req.Header.Set("Authenticate", opt.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Status: resp.StatusCode, Body: string(data)}
	}

	return data, nil
}

// doWithRetry wraps do with the shared retry policy: up to maxRetries
// attempts, delay doubling each time, retried uniformly regardless of error
// class.
func (c *Client) doWithRetry(ctx context.Context, opt callOptions) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		data, err := c.do(ctx, opt)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if attempt < c.maxRetries {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"url":     opt.url,
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("Gateway call failed, retrying")
			c.sleep(delay)
			delay *= 2
		}
	}

	return nil, lastErr
}

// IsUnreachable reports whether err is a network-class gateway failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Status == http.StatusNotFound
}

// StatusOf returns the upstream HTTP status carried by err, or 0 if err is
// not an upstream error response.
func StatusOf(err error) int {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Status
	}
	return 0
}
