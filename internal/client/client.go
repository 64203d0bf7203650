// Package client talks to the recorder daemon's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RenatoCabral2022/xrecorder/internal/api"
	"github.com/RenatoCabral2022/xrecorder/internal/command"
	"github.com/RenatoCabral2022/xrecorder/internal/display"
)

// Error is a non-2xx response from the daemon.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client holds the daemon address and credentials.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the daemon at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// RequestGrant opens a consent request.
func (c *Client) RequestGrant(ctx context.Context) (api.CreateGrantResponse, error) {
	var resp api.CreateGrantResponse
	err := c.do(ctx, http.MethodPost, "/v1/grants", nil, &resp)
	return resp, err
}

// ResolveGrant answers a consent request.
func (c *Client) ResolveGrant(ctx context.Context, token string, granted bool) (api.GrantStateResponse, error) {
	var resp api.GrantStateResponse
	err := c.do(ctx, http.MethodPost, "/v1/grants/"+url.PathEscape(token)+"/resolve", api.ResolveGrantRequest{Granted: granted}, &resp)
	return resp, err
}

// RevokeGrant withdraws capture permission for token.
func (c *Client) RevokeGrant(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/v1/grants/"+url.PathEscape(token)+"/revoke", nil, nil)
}

// Start starts recording under an already granted token. A nil geometry
// lets the daemon probe the display.
func (c *Client) Start(ctx context.Context, token string, geom *display.Geometry) (command.EventStarted, error) {
	var ev command.EventStarted
	err := c.command(ctx, command.TypeStart, command.CommandStart{GrantToken: token, Geometry: geom}, &ev)
	return ev, err
}

// Stop stops the current recording.
func (c *Client) Stop(ctx context.Context) (command.EventStopped, error) {
	var ev command.EventStopped
	err := c.command(ctx, command.TypeStop, nil, &ev)
	return ev, err
}

// Session returns the daemon's session state.
func (c *Client) Session(ctx context.Context) (api.SessionResponse, error) {
	var resp api.SessionResponse
	err := c.do(ctx, http.MethodGet, "/v1/session", nil, &resp)
	return resp, err
}

// Recordings lists recordings, optionally including unfinished ones.
func (c *Client) Recordings(ctx context.Context, pending bool, limit int) ([]api.Recording, error) {
	q := url.Values{}
	if pending {
		q.Set("pending", "true")
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/v1/recordings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp api.ListRecordingsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Recordings, nil
}

func (c *Client) command(ctx context.Context, msgType string, payload, out any) error {
	raw, err := command.Encode(msgType, "", payload)
	if err != nil {
		return err
	}
	var env command.Envelope
	if err := c.do(ctx, http.MethodPost, "/v1/commands", json.RawMessage(raw), &env); err != nil {
		return err
	}
	if out == nil || len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", env.Type, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var er api.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Message != "" {
			apiErr.Code, apiErr.Message = er.Code, er.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
