package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"conduitdash/internal/metrics"
	"conduitdash/internal/model"
)

// Client is a thin HTTP client for the dashboard API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.getJSON(ctx, "/health", &resp)
	return resp, err
}

// Stats fetches the current stats cards.
func (c *Client) Stats(ctx context.Context) ([]model.DisplayStats, error) {
	var resp []model.DisplayStats
	if err := c.getJSON(ctx, "/api/stats", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// History fetches history points for the last hours. Zero uses the server
// default.
func (c *Client) History(ctx context.Context, hours int) ([]model.HistoryPoint, error) {
	endpoint := "/api/history"
	if hours > 0 {
		endpoint += "?hours=" + strconv.Itoa(hours)
	}
	var resp []model.HistoryPoint
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Summary(ctx context.Context, window time.Duration) (metrics.Summary, error) {
	endpoint := "/api/summary"
	if window > 0 {
		endpoint += "?window=" + url.QueryEscape(window.String())
	}
	var resp metrics.Summary
	err := c.getJSON(ctx, endpoint, &resp)
	return resp, err
}

func (c *Client) Offsets(ctx context.Context) (model.OffsetRecord, error) {
	var resp model.OffsetRecord
	err := c.getJSON(ctx, "/api/offsets", &resp)
	return resp, err
}

// ResetOffsets asks the dashboard to forget prior-run totals.
func (c *Client) ResetOffsets(ctx context.Context) (ActionResponse, error) {
	var resp ActionResponse
	err := c.postJSON(ctx, "/api/offsets/reset", nil, &resp)
	return resp, err
}

// Clear asks the dashboard to delete its history and offsets.
func (c *Client) Clear(ctx context.Context) (ActionResponse, error) {
	var resp ActionResponse
	err := c.postJSON(ctx, "/api/stats/clear", nil, &resp)
	return resp, err
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return fmt.Errorf("request failed: %s", res.Status)
	}

	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}
