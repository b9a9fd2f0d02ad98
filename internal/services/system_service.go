package services

import (
	"context"
	"errors"
	"time"

	"github.com/tradewinds/api/internal/repositories"
)

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	Health      repositories.HealthRepository
	Clock       func() time.Time
	Environment string
	StartedAt   time.Time
}

type systemService struct {
	health      repositories.HealthRepository
	now         func() time.Time
	environment string
	startedAt   time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the utility service behind health endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }

	startedAt := deps.StartedAt
	if startedAt.IsZero() {
		startedAt = now()
	}

	return &systemService{
		health:      deps.Health,
		now:         now,
		environment: deps.Environment,
		startedAt:   startedAt,
	}, nil
}

// HealthReport probes persistence and reports readiness. A failed probe
// yields an unhealthy report, not an error; the transport layer turns it
// into the right status code.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report := SystemHealthReport{
		Healthy:     true,
		Environment: s.environment,
		StartedAt:   s.startedAt,
		CheckedAt:   s.now(),
	}
	if err := s.health.Ping(ctx); err != nil {
		report.Healthy = false
		report.Detail = err.Error()
	}
	return report, nil
}
