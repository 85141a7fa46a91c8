package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/org-harvest/internal/domain"
	"github.com/naka-gawa/org-harvest/internal/gateway"
)

// Checkpoints persists resolutions and repository artifacts. A repository is
// complete once WriteRepo and MarkComplete have both succeeded for it.
type Checkpoints interface {
	LoadResolution(company domain.Company) (domain.ResolutionResult, bool, error)
	SaveResolution(r domain.ResolutionResult) error
	IsComplete(company domain.Company, repo string) bool
	WriteRepo(company domain.Company, detail domain.RepoDetail) error
	MarkComplete(company domain.Company, repo string) error
}

// Recorder receives per-company outcomes and degraded metrics.
type Recorder interface {
	RecordCompany(ctx context.Context, report domain.CompanyReport) error
	RecordDegradation(ctx context.Context, company domain.Company, repo string, d domain.Degradation) error
}

type nopRecorder struct{}

func (nopRecorder) RecordCompany(context.Context, domain.CompanyReport) error { return nil }

func (nopRecorder) RecordDegradation(context.Context, domain.Company, string, domain.Degradation) error {
	return nil
}

// Options tunes the Orchestrator.
type Options struct {
	// Concurrency bounds parallel enrichment within one organization. Defaults to 1.
	Concurrency int
	// ReResolve ignores stored resolutions and resolves every company again.
	ReResolve bool
}

// Orchestrator drives companies through resolve, enumerate, enrich and persist.
type Orchestrator struct {
	resolver   *Resolver
	enumerator *Enumerator
	enricher   *Enricher
	store      Checkpoints
	recorder   Recorder
	opts       Options
	logger     *log.Logger
}

// NewOrchestrator wires the pipeline around fetcher. recorder may be nil.
func NewOrchestrator(fetcher gateway.Fetcher, store Checkpoints, recorder Recorder, opts Options, logger *log.Logger) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Orchestrator{
		resolver:   NewResolver(fetcher, logger),
		enumerator: NewEnumerator(fetcher, logger),
		enricher:   NewEnricher(fetcher, logger),
		store:      store,
		recorder:   recorder,
		opts:       opts,
		logger:     logger,
	}
}

// Run harvests each company in order. A failing company never stops the
// others; only cancellation or a storage/ledger failure ends the run early.
func (o *Orchestrator) Run(ctx context.Context, companies []string) ([]domain.CompanyReport, error) {
	o.logger.Printf("Usecase: Starting harvest of %d companies...", len(companies))

	reports := make([]domain.CompanyReport, 0, len(companies))
	for i, raw := range companies {
		company := domain.NewCompany(raw)
		if company.Name.IsEmpty() {
			o.logger.Printf("Skipping blank company name at line %d", i+1)
			continue
		}
		o.logger.Printf("[%d/%d] Processing company: %s", i+1, len(companies), company.Input)

		report, err := o.Harvest(ctx, company)
		if err != nil {
			return reports, err
		}
		if err := o.recorder.RecordCompany(ctx, report); err != nil {
			return reports, fmt.Errorf("failed to record outcome of %s: %w", company.Input, err)
		}
		reports = append(reports, report)
	}

	o.logger.Println("Usecase: Harvest complete.")
	return reports, nil
}

// Harvest processes one company. The report describes non-fatal failures; the
// error is reserved for cancellation and storage failures.
func (o *Orchestrator) Harvest(ctx context.Context, company domain.Company) (domain.CompanyReport, error) {
	report := domain.CompanyReport{Company: company}

	resolution, resolveErr, err := o.resolve(ctx, company)
	if err != nil {
		return report, err
	}
	report.OrgLogin = resolution.Login()
	report.Score = resolution.Score
	report.Reason = resolution.Reason

	switch {
	case resolveErr != nil:
		report.Status = domain.StatusFailed
		report.Error = resolveErr.Error()
		return report, nil
	case !resolution.Accepted:
		report.Status = domain.StatusRejected
		return report, nil
	}

	org := resolution.Login()
	o.logger.Printf("Usecase: Enumerating repositories of %s...", org)

	var (
		mu      sync.Mutex
		details []domain.RepoDetail
		enumErr error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.opts.Concurrency)

	for summary, err := range o.enumerator.Enumerate(egCtx, org) {
		if err != nil {
			enumErr = err
			break
		}
		if egCtx.Err() != nil {
			break
		}
		mu.Lock()
		report.Seen++
		mu.Unlock()

		if o.store.IsComplete(company, summary.Name) {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}

		eg.Go(func() error {
			detail, err := o.process(egCtx, company, org, summary)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			report.Enriched++
			if len(detail.Degraded) > 0 {
				report.Degraded++
			}
			details = append(details, detail)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.Stats = Summarize(details)
	report.Status = domain.StatusCompleted
	if enumErr != nil {
		o.logger.Printf("  Enumeration of %s stopped early: %v", org, enumErr)
		report.Status = domain.StatusPartial
		report.Error = enumErr.Error()
	}
	o.logger.Printf("Usecase: %s done: %d seen, %d enriched, %d skipped, %d degraded",
		company.Input, report.Seen, report.Enriched, report.Skipped, report.Degraded)
	return report, nil
}

// resolve returns the company's resolution, reusing a stored one when allowed.
// resolveErr is the lookup failure behind a lookup_failed rejection; err is fatal.
func (o *Orchestrator) resolve(ctx context.Context, company domain.Company) (result domain.ResolutionResult, resolveErr, err error) {
	if !o.opts.ReResolve {
		stored, ok, err := o.store.LoadResolution(company)
		if err != nil {
			return domain.ResolutionResult{}, nil, fmt.Errorf("failed to load resolution of %s: %w", company.Input, err)
		}
		// A failed lookup says nothing about the company; try again.
		if ok && stored.Reason != domain.ReasonLookupFailed {
			o.logger.Printf("  Reusing stored resolution of %s", company.Input)
			return stored, nil, nil
		}
	}

	result, resolveErr = o.resolver.Resolve(ctx, company)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.ResolutionResult{}, nil, ctxErr
	}
	if errors.Is(resolveErr, context.Canceled) || errors.Is(resolveErr, context.DeadlineExceeded) {
		return domain.ResolutionResult{}, nil, resolveErr
	}
	if err := o.store.SaveResolution(result); err != nil {
		return domain.ResolutionResult{}, nil, fmt.Errorf("failed to save resolution of %s: %w", company.Input, err)
	}
	return result, resolveErr, nil
}

// process enriches one repository and checkpoints it. Nothing is written once
// ctx is done, so an interrupted repository is fetched again on the next run.
func (o *Orchestrator) process(ctx context.Context, company domain.Company, org string, summary domain.RepoSummary) (domain.RepoDetail, error) {
	detail := o.enricher.Enrich(ctx, company, org, summary)
	if err := ctx.Err(); err != nil {
		return detail, err
	}

	if err := o.store.WriteRepo(company, detail); err != nil {
		return detail, fmt.Errorf("failed to write %s/%s: %w", org, summary.Name, err)
	}
	if err := o.store.MarkComplete(company, summary.Name); err != nil {
		return detail, fmt.Errorf("failed to checkpoint %s/%s: %w", org, summary.Name, err)
	}
	for _, d := range detail.Degraded {
		if err := o.recorder.RecordDegradation(ctx, company, summary.Name, d); err != nil {
			return detail, fmt.Errorf("failed to record degradation of %s/%s: %w", org, summary.Name, err)
		}
	}
	return detail, nil
}
