package health

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// Service runs named dependency checks.
type Service struct {
	checks map[string]Check
}

// Report is the health payload.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewService constructs a health service with the given checks.
func NewService(checks map[string]Check) *Service {
	return &Service{checks: checks}
}

// Status runs every check concurrently, each bounded by a short timeout.
func (s *Service) Status(ctx context.Context) Report {
	if s == nil || len(s.checks) == 0 {
		return Report{OK: true}
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	// A plain Group: one failing check must not cancel the others.
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if err := s.checks[name](cctx); err != nil {
				results[i] = err.Error()
				return nil
			}
			results[i] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	report := Report{OK: true, Checks: make(map[string]string, len(names))}
	for i, name := range names {
		report.Checks[name] = results[i]
		if results[i] != "ok" {
			report.OK = false
		}
	}
	return report
}
