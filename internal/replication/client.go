package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/roach88/contentnode/internal/store"
)

// DefaultTimeout bounds every node-to-node call.
const DefaultTimeout = 5 * time.Second

// maxErrorBody is how much of a failed response body is kept.
const maxErrorBody = 512

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	Wallet              []string `json:"wallet"`
	CreatorNodeEndpoint string   `json:"creator_node_endpoint"`
	Immediate           bool     `json:"immediate"`
}

// ClockStatus is the body of GET /users/clock_status/{wallet}.
// ClockValue is -1 when the node does not know the wallet.
type ClockStatus struct {
	ClockValue int64 `json:"clockValue"`
}

// TriggerError is a non-2xx answer from another node.
type TriggerError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *TriggerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// ClockSource reads the replicated clock a node holds for a wallet.
type ClockSource interface {
	ClockStatus(ctx context.Context, node, wallet string) (int64, error)
}

// Triggerer asks a secondary to pull from the primary.
type Triggerer interface {
	TriggerSync(ctx context.Context, secondary string, req SyncRequest) error
}

// Exporter fetches a user's delta from a primary.
type Exporter interface {
	FetchExport(ctx context.Context, primary, wallet string, minClock int64) (store.Export, error)
}

// Client is the HTTP side of node-to-node calls. It implements ClockSource,
// Triggerer and Exporter. Each call is bounded by the client timeout.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client. A non-positive timeout uses DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// ClockStatus implements ClockSource.
func (c *Client) ClockStatus(ctx context.Context, node, wallet string) (int64, error) {
	endpoint, err := url.JoinPath(node, "users", "clock_status", wallet)
	if err != nil {
		return 0, fmt.Errorf("clock status: %w", err)
	}
	var status ClockStatus
	if err := c.getJSON(ctx, endpoint, &status); err != nil {
		return 0, fmt.Errorf("clock status: %w", err)
	}
	return status.ClockValue, nil
}

// TriggerSync implements Triggerer. Any 2xx answer is success; the pull
// itself runs on the secondary afterwards.
func (c *Client) TriggerSync(ctx context.Context, secondary string, req SyncRequest) error {
	endpoint, err := url.JoinPath(secondary, "sync")
	if err != nil {
		return fmt.Errorf("trigger sync: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("trigger sync: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("trigger sync: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("trigger sync: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(endpoint, resp); err != nil {
		return fmt.Errorf("trigger sync: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// FetchExport implements Exporter.
func (c *Client) FetchExport(ctx context.Context, primary, wallet string, minClock int64) (store.Export, error) {
	endpoint, err := url.JoinPath(primary, "export")
	if err != nil {
		return store.Export{}, fmt.Errorf("fetch export: %w", err)
	}
	q := url.Values{}
	q.Set("wallet", wallet)
	q.Set("clock_range_min", strconv.FormatInt(minClock, 10))

	var exp store.Export
	if err := c.getJSON(ctx, endpoint+"?"+q.Encode(), &exp); err != nil {
		return store.Export{}, fmt.Errorf("fetch export: %w", err)
	}
	if exp.Wallet != wallet {
		return store.Export{}, fmt.Errorf("fetch export: primary answered for wallet %q, want %q", exp.Wallet, wallet)
	}
	return exp, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(endpoint, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func checkStatus(endpoint string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &TriggerError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       string(bytes.TrimSpace(excerpt)),
	}
}
