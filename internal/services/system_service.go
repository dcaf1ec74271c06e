package services

import (
	"context"
	"errors"
	"time"

	"github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/pricing"
	"github.com/printhaus/api/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires NewSystemService. Pricing is optional.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Pricing          *pricing.Catalog
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	deps SystemServiceDeps
}

// NewSystemService returns the readiness reporter.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Build.StartedAt.IsZero() {
		deps.Build.StartedAt = deps.Clock()
	}
	return &systemService{deps: deps}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	collected, err := s.deps.HealthRepository.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.deps.Clock().UTC()
	if collected.GeneratedAt.IsZero() {
		collected.GeneratedAt = now
	} else {
		collected.GeneratedAt = collected.GeneratedAt.UTC()
	}
	if collected.Checks == nil {
		collected.Checks = map[string]domain.DependencyHealth{}
	}
	if collected.Status == "" {
		collected.Status = overallStatus(collected.Checks)
	}

	report := SystemHealthReport{
		HealthReport: collected,
		Version:      s.deps.Build.Version,
		CommitSHA:    s.deps.Build.CommitSHA,
		Environment:  s.deps.Build.Environment,
		Uptime:       now.Sub(s.deps.Build.StartedAt),
	}
	if table := s.pricingTable(); table != nil {
		report.PricingCurrency = table.Currency()
		report.PricingSizes = len(table.Sizes())
	}
	return report, nil
}

func (s *systemService) pricingTable() *pricing.Table {
	if s.deps.Pricing == nil {
		return nil
	}
	return s.deps.Pricing.Table()
}

// overallStatus is error if any probe errored, degraded if any other probe failed, ok otherwise.
func overallStatus(checks map[string]domain.DependencyHealth) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
