package domain

import "time"

// RepoSummary is a repository as it appears on an organization listing page.
// Nothing in it costs an extra request.
type RepoSummary struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     *string `json:"description"`
	Language        *string `json:"language"`
	Fork            bool    `json:"is_fork"`
	StargazersCount int     `json:"stargazers_count"`
	ForksCount      int     `json:"forks_count"`
	WatchersCount   int     `json:"watchers_count"`
	OpenIssuesCount int     `json:"open_issues_count"`
}

// Metric names a derived field of RepoDetail that can degrade to its zero default.
type Metric string

const (
	MetricPullRequests  Metric = "total_prs"
	MetricCodeFrequency Metric = "code_frequency"
)

// Degradation records a metric that fell back to zero and why.
type Degradation struct {
	Metric Metric `json:"metric"`
	Kind   string `json:"kind"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason"`
}

// RepoDetail is a RepoSummary enriched with pull-request and code-frequency metrics.
// It is the per-repository artifact and, once durably written, the checkpoint.
type RepoDetail struct {
	CompanyInput string `json:"company_input"`
	OrgLogin     string `json:"org_login"`
	RepoSummary
	TotalPRs     int           `json:"total_prs"`
	LinesAdded   int           `json:"lines_added"`
	LinesDeleted int           `json:"lines_deleted"`
	Degraded     []Degradation `json:"degraded,omitempty"`
	FetchedAt    time.Time     `json:"fetched_at"`
}

// WeeklyDelta is one row of a code-frequency series: [timestamp, additions, deletions].
type WeeklyDelta struct {
	Week      int64
	Additions int
	Deletions int
}

// SumCodeFrequency totals additions and deletions over a weekly series.
// Deletions are reported negative by GitHub; their magnitude is summed.
// An empty series yields 0, 0.
func SumCodeFrequency(series []WeeklyDelta) (added, deleted int) {
	for _, w := range series {
		added += w.Additions
		if w.Deletions < 0 {
			deleted -= w.Deletions
		} else {
			deleted += w.Deletions
		}
	}
	return added, deleted
}
