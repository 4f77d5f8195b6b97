// Package runs reads the user's training records from the coaching backend.
// The voice client only triggers re-fetches; storage lives on the server.
package runs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Run is one logged run.
type Run struct {
	ID              int64   `json:"id"`
	DistanceMiles   float64 `json:"distance_miles"`
	DurationMinutes float64 `json:"duration_minutes"`
	PacePerMile     string  `json:"pace_per_mile,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	RunDate         string  `json:"run_date"`
}

// Date parses RunDate, which the server sends as an ISO date or timestamp.
func (r Run) Date() (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, r.RunDate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("runs: unparseable run_date %q", r.RunDate)
}

// Goal is an upcoming race.
type Goal struct {
	ID            int64   `json:"id"`
	RaceName      string  `json:"race_name"`
	RaceDate      string  `json:"race_date"`
	TargetTime    string  `json:"target_time,omitempty"`
	DistanceMiles float64 `json:"distance_miles"`
}

// Client wraps the training-record REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListRuns returns the most recent runs, newest first. limit <= 0 uses the
// server default.
func (c *Client) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	path := "/api/users/" + url.PathEscape(userID) + "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Run
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("runs: list runs: %w", err)
	}
	return out, nil
}

// ListGoals returns the user's upcoming race goals.
func (c *Client) ListGoals(ctx context.Context, userID string) ([]Goal, error) {
	var out []Goal
	if err := c.get(ctx, "/api/users/"+url.PathEscape(userID)+"/goals", &out); err != nil {
		return nil, fmt.Errorf("runs: list goals: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// WeeklySummary totals the runs dated within the seven days before now.
type WeeklySummary struct {
	Runs    int
	Miles   float64
	Minutes float64
}

// SummarizeWeek builds a WeeklySummary. Runs with unparseable dates are skipped.
func SummarizeWeek(runs []Run, now time.Time) WeeklySummary {
	weekAgo := now.AddDate(0, 0, -7)
	var s WeeklySummary
	for _, r := range runs {
		d, err := r.Date()
		if err != nil || d.Before(weekAgo) {
			continue
		}
		s.Runs++
		s.Miles += r.DistanceMiles
		s.Minutes += r.DurationMinutes
	}
	return s
}

// FormatDuration renders minutes as "1h 5m" or "45m".
func FormatDuration(minutes float64) string {
	total := int(minutes)
	if h := total / 60; h > 0 {
		return fmt.Sprintf("%dh %dm", h, total%60)
	}
	return fmt.Sprintf("%dm", total)
}
