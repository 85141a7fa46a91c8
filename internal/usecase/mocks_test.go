package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/naka-gawa/org-harvest/internal/domain"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
// It allows us to simulate the behavior of the GitHub gateway without making real API calls.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) SearchOrganizations(ctx context.Context, name string) ([]domain.OrgCandidate, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.OrgCandidate), args.Error(1)
}

func (m *mockFetcher) GetOrganization(ctx context.Context, login string) (domain.OrgCandidate, error) {
	args := m.Called(ctx, login)
	return args.Get(0).(domain.OrgCandidate), args.Error(1)
}

func (m *mockFetcher) ListOrgRepos(ctx context.Context, org string, page, perPage int) ([]domain.RepoSummary, error) {
	args := m.Called(ctx, org, page, perPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RepoSummary), args.Error(1)
}

func (m *mockFetcher) CountPullRequests(ctx context.Context, owner, repo string) (int, error) {
	args := m.Called(ctx, owner, repo)
	return args.Int(0), args.Error(1)
}

func (m *mockFetcher) CodeFrequency(ctx context.Context, owner, repo string) ([]domain.WeeklyDelta, error) {
	args := m.Called(ctx, owner, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WeeklyDelta), args.Error(1)
}

// memStore is an in-memory Checkpoints.
type memStore struct {
	mu          sync.Mutex
	resolutions map[string]domain.ResolutionResult
	partial     map[string]domain.RepoDetail
	complete    map[string]domain.RepoDetail
	failWrites  bool
}

func newMemStore() *memStore {
	return &memStore{
		resolutions: map[string]domain.ResolutionResult{},
		partial:     map[string]domain.RepoDetail{},
		complete:    map[string]domain.RepoDetail{},
	}
}

func repoKey(company domain.Company, repo string) string {
	return company.Key + "/" + repo
}

func (s *memStore) LoadResolution(company domain.Company) (domain.ResolutionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resolutions[company.Key]
	return r, ok, nil
}

func (s *memStore) SaveResolution(r domain.ResolutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions[r.Company.Key] = r
	return nil
}

func (s *memStore) IsComplete(company domain.Company, repo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.complete[repoKey(company, repo)]
	return ok
}

func (s *memStore) WriteRepo(company domain.Company, detail domain.RepoDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("disk full")
	}
	s.partial[repoKey(company, detail.Name)] = detail
	return nil
}

func (s *memStore) MarkComplete(company domain.Company, repo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := repoKey(company, repo)
	d, ok := s.partial[key]
	if !ok {
		return fmt.Errorf("nothing written for %s", key)
	}
	delete(s.partial, key)
	s.complete[key] = d
	return nil
}

func (s *memStore) completed() map[string]domain.RepoDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.RepoDetail, len(s.complete))
	for k, v := range s.complete {
		out[k] = v
	}
	return out
}

type recordedDegradation struct {
	company domain.Company
	repo    string
	d       domain.Degradation
}

// memRecorder is an in-memory Recorder.
type memRecorder struct {
	mu           sync.Mutex
	companies    []domain.CompanyReport
	degradations []recordedDegradation
}

func (r *memRecorder) RecordCompany(_ context.Context, report domain.CompanyReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.companies = append(r.companies, report)
	return nil
}

func (r *memRecorder) RecordDegradation(_ context.Context, company domain.Company, repo string, d domain.Degradation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degradations = append(r.degradations, recordedDegradation{company: company, repo: repo, d: d})
	return nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestOrchestrator builds an orchestrator with deterministic timestamps.
func newTestOrchestrator(fetcher *mockFetcher, store Checkpoints, recorder Recorder, opts Options) *Orchestrator {
	o := NewOrchestrator(fetcher, store, recorder, opts, discardLogger())
	o.resolver.now = func() time.Time { return fixedNow }
	o.enricher.now = func() time.Time { return fixedNow }
	return o
}

// makeRepos returns n summaries named <prefix>-0000 onwards, in name order.
func makeRepos(prefix string, n int) []domain.RepoSummary {
	repos := make([]domain.RepoSummary, n)
	for i := range repos {
		repos[i] = domain.RepoSummary{ID: int64(i + 1), Name: fmt.Sprintf("%s-%04d", prefix, i), StargazersCount: i}
	}
	return repos
}
