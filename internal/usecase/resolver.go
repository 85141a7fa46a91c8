// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/naka-gawa/org-harvest/internal/domain"
	"github.com/naka-gawa/org-harvest/internal/gateway"
)

// Resolver maps a company to the GitHub organization that most plausibly
// belongs to it.
type Resolver struct {
	fetcher gateway.Fetcher
	logger  *log.Logger
	now     func() time.Time
}

// NewResolver creates a new Resolver instance.
func NewResolver(fetcher gateway.Fetcher, logger *log.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Resolve searches for the company's organization and scores the top result
// only. A lookup failure still yields a rejected result (lookup_failed) along
// with the error.
func (r *Resolver) Resolve(ctx context.Context, company domain.Company) (domain.ResolutionResult, error) {
	r.logger.Printf("Usecase: Searching for GitHub organization: '%s'", company.Name)

	candidates, err := r.fetcher.SearchOrganizations(ctx, string(company.Name))
	if err != nil {
		return domain.Reject(company, "", domain.ReasonLookupFailed, r.now()),
			fmt.Errorf("failed to resolve %s: %w", company.Input, err)
	}
	if len(candidates) == 0 {
		r.logger.Printf("  No organization found for '%s'", company.Name)
		return domain.Reject(company, "", domain.ReasonNoMatch, r.now()), nil
	}

	top := candidates[0]
	profile, err := r.fetcher.GetOrganization(ctx, top.Login)
	if err != nil {
		return domain.Reject(company, top.Login, domain.ReasonLookupFailed, r.now()),
			fmt.Errorf("failed to resolve %s: %w", company.Input, err)
	}
	profile.Rank = top.Rank
	if profile.Login == "" {
		profile.Login = top.Login
	}
	if profile.ID == 0 {
		profile.ID = top.ID
	}

	result := domain.Decide(company, profile, r.now())
	if result.Accepted {
		r.logger.Printf("  Accepted '%s' (score %d)", profile.Login, profile.Score())
	} else {
		r.logger.Printf("  Rejected '%s': score %d does not exceed %d", profile.Login, profile.Score(), domain.TruthThreshold)
	}
	return result, nil
}
