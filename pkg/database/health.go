package database

import (
	"context"
	"time"
)

// HealthStatus describes the database connection health.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	TotalConn int32         `json:"total_connections"`
	IdleConn  int32         `json:"idle_connections"`
	Error     string        `json:"error,omitempty"`
}

// Health pings the database and reports pool statistics.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := c.pool.Ping(ctx)
	status := HealthStatus{
		Healthy: err == nil,
		Latency: time.Since(start),
	}
	if err != nil {
		status.Error = err.Error()
	}
	stat := c.pool.Stat()
	status.TotalConn = stat.TotalConns()
	status.IdleConn = stat.IdleConns()
	return status
}
