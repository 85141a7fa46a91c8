package usecase

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/org-harvest/internal/domain"
	"github.com/naka-gawa/org-harvest/internal/gateway"
)

// Enricher adds pull-request and code-frequency metrics to a repository.
type Enricher struct {
	fetcher gateway.Fetcher
	logger  *log.Logger
	now     func() time.Time
}

// NewEnricher creates a new Enricher instance.
func NewEnricher(fetcher gateway.Fetcher, logger *log.Logger) *Enricher {
	return &Enricher{
		fetcher: fetcher,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Enrich fetches both metrics concurrently. It always returns a detail: a
// metric whose fetch failed is left at zero and listed in Degraded.
func (e *Enricher) Enrich(ctx context.Context, company domain.Company, org string, summary domain.RepoSummary) domain.RepoDetail {
	var (
		totalPRs         int
		series           []domain.WeeklyDelta
		prErr, weeklyErr error
	)

	// Neither call cancels the other, so a plain Group is enough.
	var eg errgroup.Group
	eg.Go(func() error {
		totalPRs, prErr = e.fetcher.CountPullRequests(ctx, org, summary.Name)
		return nil
	})
	eg.Go(func() error {
		series, weeklyErr = e.fetcher.CodeFrequency(ctx, org, summary.Name)
		return nil
	})
	_ = eg.Wait()

	detail := domain.RepoDetail{
		CompanyInput: company.Input,
		OrgLogin:     org,
		RepoSummary:  summary,
		FetchedAt:    e.now(),
	}
	if prErr != nil {
		e.logger.Printf("  Pull request total of %s/%s degraded: %v", org, summary.Name, prErr)
		detail.Degraded = append(detail.Degraded, degradation(domain.MetricPullRequests, prErr))
	} else {
		detail.TotalPRs = totalPRs
	}
	if weeklyErr != nil {
		e.logger.Printf("  Code frequency of %s/%s degraded: %v", org, summary.Name, weeklyErr)
		detail.Degraded = append(detail.Degraded, degradation(domain.MetricCodeFrequency, weeklyErr))
	} else {
		detail.LinesAdded, detail.LinesDeleted = domain.SumCodeFrequency(series)
	}
	return detail
}

func degradation(metric domain.Metric, err error) domain.Degradation {
	d := domain.Degradation{Metric: metric, Reason: err.Error()}
	if fe, ok := gateway.AsFetchError(err); ok {
		d.Kind = fe.Kind.String()
		d.Status = fe.Status
		return d
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.Kind = "cancelled"
	default:
		d.Kind = "unknown"
	}
	return d
}
