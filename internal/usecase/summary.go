package usecase

import (
	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/org-harvest/internal/domain"
)

// Summarize aggregates the repositories processed for one company.
func Summarize(details []domain.RepoDetail) domain.CompanyStats {
	s := domain.CompanyStats{Repos: len(details)}
	if len(details) == 0 {
		return s
	}

	stars := make([]int, 0, len(details))
	prs := make([]int, 0, len(details))
	for _, d := range details {
		stars = append(stars, d.StargazersCount)
		prs = append(prs, d.TotalPRs)
		s.TotalLinesAdded += d.LinesAdded
		s.TotalLinesDeleted += d.LinesDeleted
	}

	starData := stats.LoadRawData(stars)
	prData := stats.LoadRawData(prs)

	// Errors only occur on empty input, which is excluded above.
	totalStars, _ := stats.Sum(starData)
	s.TotalStars = int(totalStars)
	s.MedianStars, _ = stats.Median(starData)
	totalPRs, _ := stats.Sum(prData)
	s.TotalPRs = int(totalPRs)
	mean, _ := stats.Mean(prData)
	s.MeanPRs, _ = stats.Round(mean, 2)
	return s
}
