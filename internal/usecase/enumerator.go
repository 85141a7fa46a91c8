package usecase

import (
	"context"
	"fmt"
	"iter"
	"log"

	"github.com/naka-gawa/org-harvest/internal/domain"
	"github.com/naka-gawa/org-harvest/internal/gateway"
)

// PageSize is the number of repositories requested per listing page.
const PageSize = 100

// Enumerator lists every public repository of an organization.
type Enumerator struct {
	fetcher  gateway.Fetcher
	logger   *log.Logger
	pageSize int
}

// NewEnumerator creates a new Enumerator instance.
func NewEnumerator(fetcher gateway.Fetcher, logger *log.Logger) *Enumerator {
	return &Enumerator{
		fetcher:  fetcher,
		logger:   logger,
		pageSize: PageSize,
	}
}

// Enumerate is EnumerateFrom starting at the first page.
func (e *Enumerator) Enumerate(ctx context.Context, org string) iter.Seq2[domain.RepoSummary, error] {
	return e.EnumerateFrom(ctx, org, 1)
}

// EnumerateFrom lazily yields the repositories of org page by page, starting at
// page, until a short or empty page. Pages are fetched only as the caller
// consumes them. A failed page ends the sequence with a single error after
// everything yielded from earlier pages. A name is never yielded twice.
func (e *Enumerator) EnumerateFrom(ctx context.Context, org string, page int) iter.Seq2[domain.RepoSummary, error] {
	if page < 1 {
		page = 1
	}
	return func(yield func(domain.RepoSummary, error) bool) {
		seen := make(map[string]struct{})
		for p := page; ; p++ {
			repos, err := e.fetcher.ListOrgRepos(ctx, org, p, e.pageSize)
			if err != nil {
				yield(domain.RepoSummary{}, fmt.Errorf("failed to enumerate repositories of %s at page %d: %w", org, p, err))
				return
			}
			e.logger.Printf("  Page %d of %s: %d repositories", p, org, len(repos))

			for _, repo := range repos {
				if _, dup := seen[repo.Name]; dup {
					continue
				}
				seen[repo.Name] = struct{}{}
				if !yield(repo, nil) {
					return
				}
			}
			if len(repos) < e.pageSize {
				return
			}
		}
	}
}
