package domain

import "time"

// TruthThreshold is the exclusive lower bound a TruthScore must exceed to be accepted.
const TruthThreshold = 500

// OrgCandidate is an organization returned by search, enriched with its profile counts.
type OrgCandidate struct {
	Login           string
	ID              int64
	Name            string
	Website         string
	PublicRepoCount int
	FollowerCount   int
	Rank            int
}

// TruthScore distinguishes a real company organization from squatters:
// public_repo_count + 2 * follower_count.
func TruthScore(publicRepos, followers int) int {
	return publicRepos + 2*followers
}

// Score returns the candidate's TruthScore.
func (c OrgCandidate) Score() int {
	return TruthScore(c.PublicRepoCount, c.FollowerCount)
}

// RejectReason explains why a company was not matched to an organization.
type RejectReason string

const (
	ReasonNone         RejectReason = ""
	ReasonNoMatch      RejectReason = "no_match"
	ReasonLowScore     RejectReason = "low_score"
	ReasonLookupFailed RejectReason = "lookup_failed"
)

// ResolutionResult is the stable, once-per-company outcome of organization resolution.
// It doubles as the `_company_info.json` record.
type ResolutionResult struct {
	Company

	Accepted     bool         `json:"org_found"`
	OrgLogin     *string      `json:"org_login"`
	OrgID        *int64       `json:"org_id"`
	OrgName      *string      `json:"org_name"`
	OrgWebsite   *string      `json:"org_website"`
	OrgFollowers int          `json:"org_followers"`
	OrgRepos     int          `json:"org_public_repos"`
	Score        *int         `json:"truth_score"`
	Reason       RejectReason `json:"rejection_reason,omitempty"`
	ResolvedAt   time.Time    `json:"scrape_timestamp"`
}

// Accept builds an accepted result for the scored candidate.
func Accept(company Company, c OrgCandidate, at time.Time) ResolutionResult {
	score := c.Score()
	r := ResolutionResult{
		Company:      company,
		Accepted:     true,
		OrgLogin:     &c.Login,
		Score:        &score,
		OrgFollowers: c.FollowerCount,
		OrgRepos:     c.PublicRepoCount,
		ResolvedAt:   at,
	}
	if c.ID != 0 {
		r.OrgID = &c.ID
	}
	if c.Name != "" {
		r.OrgName = &c.Name
	}
	if c.Website != "" {
		r.OrgWebsite = &c.Website
	}
	return r
}

// Reject builds a rejected result without a score. login may be empty when
// no candidate was found.
func Reject(company Company, login string, reason RejectReason, at time.Time) ResolutionResult {
	r := ResolutionResult{Company: company, Reason: reason, ResolvedAt: at}
	if login != "" {
		r.OrgLogin = &login
	}
	return r
}

// Decide applies the exclusive TruthThreshold to a scored candidate.
// A score of exactly TruthThreshold is rejected.
func Decide(company Company, c OrgCandidate, at time.Time) ResolutionResult {
	if c.Score() > TruthThreshold {
		return Accept(company, c, at)
	}
	r := Reject(company, c.Login, ReasonLowScore, at)
	score := c.Score()
	r.Score = &score
	r.OrgFollowers = c.FollowerCount
	r.OrgRepos = c.PublicRepoCount
	return r
}

// Login returns the organization login or "" when none was found.
func (r ResolutionResult) Login() string {
	if r.OrgLogin == nil {
		return ""
	}
	return *r.OrgLogin
}
