package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyProbe describes one dependency checked during readiness.
type DependencyProbe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

type dependencyHealthRepository struct {
	probes         []DependencyProbe
	defaultTimeout time.Duration
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository constructs a HealthRepository that pings every probe.
func NewDependencyHealthRepository(probes []DependencyProbe) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one dependency probe is required")
	}
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" {
			return nil, errors.New("health repository: dependency probe missing name")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", probe.Name)
		}
	}

	repo := &dependencyHealthRepository{
		probes:         make([]DependencyProbe, len(probes)),
		defaultTimeout: defaultProbeTimeout,
	}
	copy(repo.probes, probes)
	return repo, nil
}

// Ping runs every probe with its timeout and fails on the first unhealthy
// dependency.
func (r *dependencyHealthRepository) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("health repository: context is required")
	}
	for _, probe := range r.probes {
		timeout := probe.Timeout
		if timeout <= 0 {
			timeout = r.defaultTimeout
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := probe.Check(probeCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("health repository: dependency %s: %w", probe.Name, err)
		}
	}
	return nil
}
