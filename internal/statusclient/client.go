package statusclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal/models"
)

// Services mirrors the health endpoint's per-dependency statuses.
type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
	Relay    string `json:"relay"`
}

type HealthSnapshot struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Uptime    float64  `json:"uptime"`
	Version   string   `json:"version"`
	Services  Services `json:"services"`
}

type Overview struct {
	ConnectedClients int     `json:"connectedClients"`
	AdminClients     int     `json:"adminClients"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
	Version          string  `json:"version"`
}

type RealTimeMetrics struct {
	EventsRelayed uint64 `json:"eventsRelayed"`
	EventsDropped uint64 `json:"eventsDropped"`
}

type DashboardSnapshot struct {
	Overview        Overview           `json:"overview"`
	RealTimeMetrics RealTimeMetrics    `json:"realTimeMetrics"`
	RecentLogs      []models.LogEntry  `json:"recentLogs"`
	SystemStats     models.SystemStats `json:"systemStats"`
}

// Client polls the relay's snapshot endpoints on a fixed interval,
// independent of the real-time connection. Failures are absorbed into
// degraded sentinel snapshots; callers never see an error.
type Client struct {
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	interval time.Duration
}

func New(baseURL string, timeout, interval time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{},
		timeout:  timeout,
		interval: interval,
	}
}

// GetHealth fetches /api/health. On any failure it returns the degraded
// sentinel instead of an error.
func (c *Client) GetHealth(ctx context.Context) HealthSnapshot {
	var snapshot HealthSnapshot
	if err := c.getJSON(ctx, "/api/health", &snapshot); err != nil {
		logrus.WithField("prefix", "StatusClient.GetHealth").Warnf("falling back to degraded snapshot: %v", err)
		return DegradedHealth()
	}
	return snapshot
}

// GetDashboard fetches /api/dashboard. On any failure it returns the
// zeroed sentinel instead of an error.
func (c *Client) GetDashboard(ctx context.Context) DashboardSnapshot {
	var snapshot DashboardSnapshot
	if err := c.getJSON(ctx, "/api/dashboard", &snapshot); err != nil {
		logrus.WithField("prefix", "StatusClient.GetDashboard").Warnf("falling back to degraded snapshot: %v", err)
		return DegradedDashboard()
	}
	return snapshot
}

// Run polls both endpoints until ctx is canceled, handing each snapshot pair
// to fn. The first poll happens immediately.
func (c *Client) Run(ctx context.Context, fn func(HealthSnapshot, DashboardSnapshot)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		fn(c.GetHealth(ctx), c.GetDashboard(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status code: %v", res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// DegradedHealth is the sentinel returned when the health endpoint is
// unreachable: well-formed, unambiguously not live data.
func DegradedHealth() HealthSnapshot {
	return HealthSnapshot{
		Status:    "unhealthy",
		Timestamp: models.Now(),
		Services: Services{
			Database: "disconnected",
			Redis:    "disconnected",
			Relay:    "disconnected",
		},
	}
}

// DegradedDashboard is the all-zero sentinel for dashboard failures.
func DegradedDashboard() DashboardSnapshot {
	return DashboardSnapshot{
		RecentLogs: []models.LogEntry{},
		SystemStats: models.SystemStats{
			Timestamp: models.Now(),
		},
	}
}
