// Package api defines the interfaces shared by coordinator binaries.
package api

import (
	"context"

	"github.com/unklstewy/bigskies-focuser/pkg/healthcheck"
)

// Coordinator is a long running service with a health check.
type Coordinator interface {
	// Name returns the unique name of the coordinator
	Name() string

	// Start initializes and starts the coordinator
	Start(ctx context.Context) error

	// Stop gracefully shuts down the coordinator
	Stop(ctx context.Context) error

	// HealthCheck returns the coordinator's current health
	HealthCheck(ctx context.Context) *healthcheck.Result

	IsRunning() bool
}
