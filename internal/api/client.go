// Package api is the client for the platform's driver HTTP API: working
// hours timer, push token registration, geolocation persistence, logout.
// All failures here are non-fatal to the ride flow; callers decide whether
// to degrade or surface them.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/driver-agent/internal/models"
)

type Client struct {
	Base      string
	AuthToken string
	HTTP      *http.Client
}

func NewClient(base, authToken string) *Client {
	return &Client{Base: base, AuthToken: authToken, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// TimerStatus is the polled working-hours state. The server is
// authoritative on every field.
type TimerStatus struct {
	Active           bool   `json:"timerActive"`
	RemainingSeconds int    `json:"remainingSeconds"`
	FormattedTime    string `json:"formattedTime"`
	WarningsIssued   int    `json:"warningsIssued"`
	WalletDeducted   bool   `json:"walletDeducted"`
}

// ExtendResult carries the post-purchase wallet balance for display.
type ExtendResult struct {
	NewWalletBalance float64 `json:"newWalletBalance"`
}

// RequestError is a server-authoritative rejection (insufficient balance,
// unknown driver). The message is surfaced verbatim to the user.
type RequestError struct {
	Op      string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}

func (c *Client) StartTimer(ctx context.Context, driverID string) error {
	return c.post(ctx, "/driver/working-hours/start", map[string]any{"driverId": driverID}, nil)
}

func (c *Client) StopTimer(ctx context.Context, driverID string) error {
	return c.post(ctx, "/driver/working-hours/stop", map[string]any{"driverId": driverID}, nil)
}

func (c *Client) FetchTimerStatus(ctx context.Context, driverID string) (TimerStatus, error) {
	var out struct {
		Success bool `json:"success"`
		TimerStatus
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/driver/working-hours/status/"+driverID, nil)
	if err != nil {
		return TimerStatus{}, err
	}
	if err := c.do(req, &out); err != nil {
		return TimerStatus{}, err
	}
	if !out.Success {
		return TimerStatus{}, &RequestError{Op: "timer status", Message: "status unavailable"}
	}
	return out.TimerStatus, nil
}

func (c *Client) PurchaseExtension(ctx context.Context, driverID string, additionalHours int) (ExtendResult, error) {
	var out ExtendResult
	err := c.post(ctx, "/driver/working-hours/extend",
		map[string]any{"driverId": driverID, "additionalHours": additionalHours}, &out)
	return out, err
}

func (c *Client) SkipWarning(ctx context.Context, driverID string) error {
	return c.post(ctx, "/driver/working-hours/skip-warning", map[string]any{"driverId": driverID}, nil)
}

func (c *Client) UpdatePushToken(ctx context.Context, driverID, token, platform string) error {
	return c.post(ctx, "/api/drivers/update-fcm-token",
		map[string]any{"driverId": driverID, "fcmToken": token, "platform": platform}, nil)
}

func (c *Client) UpdateLocation(ctx context.Context, loc models.DriverLocation) error {
	return c.post(ctx, "/driver-location/update", loc, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/drivers/logout", map[string]any{}, nil)
}

// post sends a JSON body and decodes the standard {success, message, ...}
// envelope. When out is non-nil the remaining fields are decoded into it.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var envelope struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Rest    json.RawMessage `json:"-"`
	}
	raw, err := c.doRaw(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	if !envelope.Success {
		return &RequestError{Op: path, Message: envelope.Message}
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	raw, err := c.doRaw(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) doRaw(req *http.Request) (json.RawMessage, error) {
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return raw, nil
}
