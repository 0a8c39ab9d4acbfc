package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Client talks to a relay server over its unix domain socket.
type Client struct {
	hc *http.Client
}

// NewClient builds a client bound to the socket at path. The host in
// request URLs is a placeholder; the transport always dials the socket.
func NewClient(path string) *Client {
	return &Client{hc: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
	}}
}

// Execute posts args to the relay and returns the brokered CLI result.
func (c *Client) Execute(ctx context.Context, args []string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	body, err := json.Marshal(execRequest{Args: args})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://relayd/hook", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var res Result
	if err := c.do(req, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Health probes /health and returns the server's PID.
func (c *Client) Health(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://relayd/health", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		OK  bool `json:"ok"`
		PID int  `json:"pid"`
	}
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, fmt.Errorf("relay reported unhealthy")
	}
	return resp.PID, nil
}

// Metrics fetches the JSON counter snapshot.
func (c *Client) Metrics(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://relayd/metrics", nil)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := c.do(req, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
