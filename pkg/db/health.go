package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus represents the health state of a database connection.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Latency       time.Duration `json:"latency"`
	TotalConns    int32         `json:"total_conns"`
	AcquiredConns int32         `json:"acquired_conns"`
	Error         string        `json:"error,omitempty"`
}

// Check pings the pool and reports latency and connection counts.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}

	if pool == nil {
		status.Error = "pool is nil"
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return status
	}

	stats := pool.Stat()
	status.Healthy = true
	status.TotalConns = stats.TotalConns()
	status.AcquiredConns = stats.AcquiredConns()
	return status
}

// Checker adapts a pool to the api health-check interface.
type Checker struct {
	Pool *pgxpool.Pool
}

// Name identifies the dependency in health responses.
func (c Checker) Name() string { return "postgres" }

// Check returns an error when the database is unreachable.
func (c Checker) Check(ctx context.Context) error {
	st := Check(ctx, c.Pool)
	if !st.Healthy {
		return fmt.Errorf("%s", st.Error)
	}
	return nil
}
