// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/org-harvest/internal/domain"
	"github.com/naka-gawa/org-harvest/internal/ratelimit"
)

const (
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	// SearchPageSize is how many organization search results are requested.
	// Only the first one is ever scored.
	SearchPageSize = 5
)

// PRCountStrategy selects how pull-request totals are obtained.
type PRCountStrategy string

const (
	// PRCountREST reads the last-page indicator of a one-item pull request listing.
	PRCountREST PRCountStrategy = "rest"
	// PRCountGraphQL asks the GraphQL API for pullRequests.totalCount.
	PRCountGraphQL PRCountStrategy = "graphql"
)

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
// Every method issues exactly one API request through the shared rate budget.
type Fetcher interface {
	SearchOrganizations(ctx context.Context, name string) ([]domain.OrgCandidate, error)
	GetOrganization(ctx context.Context, login string) (domain.OrgCandidate, error)
	ListOrgRepos(ctx context.Context, org string, page, perPage int) ([]domain.RepoSummary, error)
	CountPullRequests(ctx context.Context, owner, repo string) (int, error)
	CodeFrequency(ctx context.Context, owner, repo string) ([]domain.WeeklyDelta, error)
}

// Options configures NewGitHubGateway.
type Options struct {
	// Token is the bearer token; empty means anonymous access.
	Token string
	// PRCount selects the pull-request total strategy. Defaults to PRCountREST.
	PRCount PRCountStrategy
	// Policy is the retry policy for transient failures.
	Policy ratelimit.Policy
	// SecondarySleepLimit caps a single in-transport sleep on a secondary rate
	// limit. Longer waits are reported to the fetcher as transient failures and
	// retried through the budget; zero sends every secondary limit that way.
	SecondarySleepLimit time.Duration
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	fetcher       *RetryingFetcher
	prCount       PRCountStrategy
	logger        *log.Logger
}

// pullRequestTotalQuery reads a repository's pull request count in one GraphQL request.
type pullRequestTotalQuery struct {
	Repository struct {
		PullRequests struct {
			TotalCount githubv4.Int
		} `graphql:"pullRequests(states: [OPEN, CLOSED, MERGED])"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
// All requests draw from budget.
func NewGitHubGateway(opts Options, budget *ratelimit.Budget, logger *log.Logger) (*GitHubGateway, error) {
	onLimit := func(cbContext *github_ratelimit.CallbackContext) {
		if cbContext.SleepUntil != nil {
			logger.Printf("  Secondary rate limit on %s until %s", cbContext.Request.URL.Path, cbContext.SleepUntil.Format(time.RFC3339))
		}
	}
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(opts.SecondarySleepLimit, onLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	var transport http.RoundTripper = rateLimitWaiter
	if opts.Token != "" {
		transport = &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
		}
	}
	httpClient := withProbeTransport(&http.Client{Transport: transport, Timeout: DefaultTimeout})

	return newGitHubGateway(
		github.NewClient(httpClient),
		githubv4.NewClient(httpClient),
		NewRetryingFetcher(budget, opts.Policy, logger),
		opts.PRCount,
		logger,
	), nil
}

func newGitHubGateway(rest *github.Client, gql *githubv4.Client, fetcher *RetryingFetcher, prCount PRCountStrategy, logger *log.Logger) *GitHubGateway {
	if prCount == "" {
		prCount = PRCountREST
	}
	return &GitHubGateway{
		restClient:    rest,
		graphqlClient: gql,
		fetcher:       fetcher,
		prCount:       prCount,
		logger:        logger,
	}
}

// SearchOrganizations returns organization logins matching name in search relevance order.
func (g *GitHubGateway) SearchOrganizations(ctx context.Context, name string) ([]domain.OrgCandidate, error) {
	query := fmt.Sprintf("%s type:org", name)
	g.logger.Printf("  > GitHub Search Query: '%s'", query)
	opts := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: SearchPageSize}}

	var result *github.UsersSearchResult
	err := g.fetcher.Fetch(ctx, "search/users", func(ctx context.Context) error {
		var err error
		result, _, err = g.restClient.Search.Users(ctx, query, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search organizations: %w", err)
	}

	candidates := make([]domain.OrgCandidate, 0, len(result.Users))
	for i, user := range result.Users {
		candidates = append(candidates, domain.OrgCandidate{
			Login: user.GetLogin(),
			ID:    user.GetID(),
			Rank:  i + 1,
		})
	}
	return candidates, nil
}

// GetOrganization fetches an organization's profile counts.
func (g *GitHubGateway) GetOrganization(ctx context.Context, login string) (domain.OrgCandidate, error) {
	var org *github.Organization
	err := g.fetcher.Fetch(ctx, "orgs/"+login, func(ctx context.Context) error {
		var err error
		org, _, err = g.restClient.Organizations.Get(ctx, login)
		return err
	})
	if err != nil {
		return domain.OrgCandidate{}, fmt.Errorf("failed to fetch organization %s: %w", login, err)
	}

	website := org.GetBlog()
	if website == "" {
		website = org.GetHTMLURL()
	}
	return domain.OrgCandidate{
		Login:           org.GetLogin(),
		ID:              org.GetID(),
		Name:            org.GetName(),
		Website:         website,
		PublicRepoCount: org.GetPublicRepos(),
		FollowerCount:   org.GetFollowers(),
	}, nil
}

// ListOrgRepos fetches one page of an organization's public repositories,
// ordered by full name so that page boundaries are stable across runs.
func (g *GitHubGateway) ListOrgRepos(ctx context.Context, org string, page, perPage int) ([]domain.RepoSummary, error) {
	opts := &github.RepositoryListByOrgOptions{
		Type:        "public",
		Sort:        "full_name",
		Direction:   "asc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	var repos []*github.Repository
	err := g.fetcher.Fetch(ctx, fmt.Sprintf("orgs/%s/repos?page=%d", org, page), func(ctx context.Context) error {
		var err error
		repos, _, err = g.restClient.Repositories.ListByOrg(ctx, org, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories of %s: %w", org, err)
	}

	summaries := make([]domain.RepoSummary, 0, len(repos))
	for _, r := range repos {
		summaries = append(summaries, domain.RepoSummary{
			ID:              r.GetID(),
			Name:            r.GetName(),
			Description:     r.Description,
			Language:        r.Language,
			Fork:            r.GetFork(),
			StargazersCount: r.GetStargazersCount(),
			ForksCount:      r.GetForksCount(),
			WatchersCount:   r.GetWatchersCount(),
			OpenIssuesCount: r.GetOpenIssuesCount(),
		})
	}
	return summaries, nil
}

// CountPullRequests returns the total number of pull requests in any state.
func (g *GitHubGateway) CountPullRequests(ctx context.Context, owner, repo string) (int, error) {
	if g.prCount == PRCountGraphQL {
		return g.countPullRequestsGraphQL(ctx, owner, repo)
	}

	opts := &github.PullRequestListOptions{State: "all", ListOptions: github.ListOptions{PerPage: 1}}
	var (
		prs  []*github.PullRequest
		resp *github.Response
	)
	err := g.fetcher.Fetch(ctx, fmt.Sprintf("repos/%s/%s/pulls", owner, repo), func(ctx context.Context) error {
		var err error
		prs, resp, err = g.restClient.PullRequests.List(ctx, owner, repo, opts)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pull requests of %s/%s: %w", owner, repo, err)
	}
	// With one item per page the last page number is the total.
	if resp != nil && resp.LastPage > 0 {
		return resp.LastPage, nil
	}
	return len(prs), nil
}

func (g *GitHubGateway) countPullRequestsGraphQL(ctx context.Context, owner, repo string) (int, error) {
	variables := map[string]interface{}{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(repo),
	}
	var q pullRequestTotalQuery
	err := g.fetcher.Fetch(ctx, fmt.Sprintf("graphql repository(%s/%s).pullRequests", owner, repo), func(ctx context.Context) error {
		return g.graphqlClient.Query(ctx, &q, variables)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to execute GraphQL query for pull request total of %s/%s: %w", owner, repo, err)
	}
	return int(q.Repository.PullRequests.TotalCount), nil
}

// CodeFrequency fetches the weekly additions/deletions series. GitHub answers 202
// while it computes the statistics; the fetcher retries those as transient.
func (g *GitHubGateway) CodeFrequency(ctx context.Context, owner, repo string) ([]domain.WeeklyDelta, error) {
	var weeks []*github.WeeklyStats
	err := g.fetcher.Fetch(ctx, fmt.Sprintf("repos/%s/%s/stats/code_frequency", owner, repo), func(ctx context.Context) error {
		var err error
		weeks, _, err = g.restClient.Repositories.ListCodeFrequency(ctx, owner, repo)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch code frequency of %s/%s: %w", owner, repo, err)
	}

	series := make([]domain.WeeklyDelta, 0, len(weeks))
	for _, w := range weeks {
		series = append(series, domain.WeeklyDelta{
			Week:      w.GetWeek().Unix(),
			Additions: w.GetAdditions(),
			Deletions: w.GetDeletions(),
		})
	}
	return series, nil
}
