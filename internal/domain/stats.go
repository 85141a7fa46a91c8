package domain

// CompanyStats holds the aggregate metrics over the repositories processed for one company.
type CompanyStats struct {
	Repos             int     `json:"repos"`
	TotalStars        int     `json:"total_stars"`
	MedianStars       float64 `json:"median_stars"`
	TotalPRs          int     `json:"total_prs"`
	MeanPRs           float64 `json:"mean_prs"`
	TotalLinesAdded   int     `json:"total_lines_added"`
	TotalLinesDeleted int     `json:"total_lines_deleted"`
}

// CompanyStatus is the terminal state of one company in a run.
type CompanyStatus string

const (
	StatusRejected  CompanyStatus = "rejected"
	StatusFailed    CompanyStatus = "failed"
	StatusPartial   CompanyStatus = "partial"
	StatusCompleted CompanyStatus = "completed"
)

// CompanyReport is the outcome of driving one company through the pipeline.
type CompanyReport struct {
	Company  Company       `json:"company"`
	Status   CompanyStatus `json:"status"`
	OrgLogin string        `json:"org_login,omitempty"`
	Score    *int          `json:"truth_score,omitempty"`
	Reason   RejectReason  `json:"rejection_reason,omitempty"`
	Seen     int           `json:"repos_seen"`
	Enriched int           `json:"repos_enriched"`
	Skipped  int           `json:"repos_skipped"`
	Degraded int           `json:"repos_degraded"`
	Error    string        `json:"error,omitempty"`
	Stats    CompanyStats  `json:"stats"`
}
