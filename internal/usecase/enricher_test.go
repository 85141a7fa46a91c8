package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/naka-gawa/org-harvest/internal/domain"
	"github.com/naka-gawa/org-harvest/internal/gateway"
)

func TestEnricher_Enrich(t *testing.T) {
	prNotFound := &gateway.FetchError{Kind: gateway.Permanent, Endpoint: "repos/acme/app/pulls", Status: 404, Err: errors.New("Not Found")}
	stillComputing := &gateway.FetchError{Kind: gateway.Transient, Endpoint: "repos/acme/app/stats/code_frequency", Status: 202, Err: errors.New("job scheduled")}
	series := []domain.WeeklyDelta{{Week: 0, Additions: 10, Deletions: -2}, {Week: 604800, Additions: 5, Deletions: -1}}

	testCases := []struct {
		name           string
		prs            int
		prErr          error
		series         []domain.WeeklyDelta
		seriesErr      error
		expectPRs      int
		expectAdded    int
		expectDeleted  int
		expectDegraded []domain.Degradation
	}{
		{
			name:          "happy path - both metrics present",
			prs:           42,
			series:        series,
			expectPRs:     42,
			expectAdded:   15,
			expectDeleted: 3,
		},
		{
			name:          "empty code frequency series sums to zero",
			prs:           1,
			series:        []domain.WeeklyDelta{},
			expectPRs:     1,
			expectAdded:   0,
			expectDeleted: 0,
		},
		{
			name:          "deleted repository degrades the pull request total only",
			prErr:         prNotFound,
			series:        series,
			expectAdded:   15,
			expectDeleted: 3,
			expectDegraded: []domain.Degradation{
				{Metric: domain.MetricPullRequests, Kind: "permanent", Status: 404, Reason: prNotFound.Error()},
			},
		},
		{
			name:      "both metrics degraded",
			prErr:     prNotFound,
			seriesErr: stillComputing,
			expectDegraded: []domain.Degradation{
				{Metric: domain.MetricPullRequests, Kind: "permanent", Status: 404, Reason: prNotFound.Error()},
				{Metric: domain.MetricCodeFrequency, Kind: "transient", Status: 202, Reason: stillComputing.Error()},
			},
		},
		{
			name:      "cancellation is recorded as such",
			prs:       7,
			seriesErr: context.Canceled,
			expectPRs: 7,
			expectDegraded: []domain.Degradation{
				{Metric: domain.MetricCodeFrequency, Kind: "cancelled", Reason: context.Canceled.Error()},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := new(mockFetcher)
			fetcher.On("CountPullRequests", mock.Anything, "acme", "app").Return(tc.prs, tc.prErr).Once()
			fetcher.On("CodeFrequency", mock.Anything, "acme", "app").Return(tc.series, tc.seriesErr).Once()
			enricher := NewEnricher(fetcher, discardLogger())
			enricher.now = func() time.Time { return fixedNow }
			company := domain.NewCompany("Acme Corp")
			summary := domain.RepoSummary{ID: 9, Name: "app", StargazersCount: 3}

			detail := enricher.Enrich(context.Background(), company, "acme", summary)

			assert.Equal(t, "Acme Corp", detail.CompanyInput)
			assert.Equal(t, "acme", detail.OrgLogin)
			assert.Equal(t, summary, detail.RepoSummary)
			assert.Equal(t, tc.expectPRs, detail.TotalPRs)
			assert.Equal(t, tc.expectAdded, detail.LinesAdded)
			assert.Equal(t, tc.expectDeleted, detail.LinesDeleted)
			assert.Equal(t, tc.expectDegraded, detail.Degraded)
			assert.Equal(t, fixedNow, detail.FetchedAt)
			fetcher.AssertExpectations(t)
		})
	}
}
