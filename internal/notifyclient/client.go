package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Alert is a notification about a flagged or rejected attendance record,
// delivered to the campus notification service (SMS/push fan-out happens
// there, not here).
type Alert struct {
	StudentID    string `json:"student_id"`
	InternshipID string `json:"internship_id"`
	RecordID     string `json:"record_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Date         string `json:"date"`
}

// Client calls the external notification service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, sends are no-ops (local dev).
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAttendanceAlert posts one alert. The notification service owns
// retries and channel selection.
func (c *Client) SendAttendanceAlert(ctx context.Context, alert Alert) error {
	if c.Skip {
		return nil
	}
	if alert.RecordID == "" {
		return fmt.Errorf("record id required")
	}

	body, _ := json.Marshal(alert)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/alerts/attendance", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notify service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify service error %s: %s", resp.Status, string(respBody))
	}
	return nil
}

// Health checks if the notification service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notify service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify service unhealthy: %s", resp.Status)
	}
	return nil
}
