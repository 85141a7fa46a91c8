package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/org-harvest/internal/domain"
	"github.com/naka-gawa/org-harvest/internal/gateway"
)

func names(repos []domain.RepoSummary) []string {
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		out = append(out, r.Name)
	}
	return out
}

func summaries(names ...string) []domain.RepoSummary {
	out := make([]domain.RepoSummary, 0, len(names))
	for _, n := range names {
		out = append(out, domain.RepoSummary{Name: n})
	}
	return out
}

func TestEnumerator_EnumerateFrom(t *testing.T) {
	notFound := &gateway.FetchError{Kind: gateway.Permanent, Endpoint: "orgs/acme/repos?page=1", Status: 404, Err: errors.New("Not Found")}
	transient := &gateway.FetchError{Kind: gateway.Transient, Endpoint: "orgs/acme/repos?page=2", Status: 502, Err: errors.New("Bad Gateway")}

	testCases := []struct {
		name          string
		start         int
		pages         map[int][]domain.RepoSummary
		errs          map[int]error
		expected      []string
		expectedPages int
		expectError   error
	}{
		{
			name:          "stops on a short page",
			start:         1,
			pages:         map[int][]domain.RepoSummary{1: summaries("a", "b"), 2: summaries("c")},
			expected:      []string{"a", "b", "c"},
			expectedPages: 2,
		},
		{
			name:          "stops on an empty page",
			start:         1,
			pages:         map[int][]domain.RepoSummary{1: summaries("a", "b"), 2: {}},
			expected:      []string{"a", "b"},
			expectedPages: 2,
		},
		{
			name:          "organization without repositories",
			start:         1,
			pages:         map[int][]domain.RepoSummary{1: {}},
			expected:      []string{},
			expectedPages: 1,
		},
		{
			name:          "permanent failure on the first page yields only the error",
			start:         1,
			errs:          map[int]error{1: notFound},
			expected:      []string{},
			expectedPages: 1,
			expectError:   notFound,
		},
		{
			name:          "failure after a page keeps what came before",
			start:         1,
			pages:         map[int][]domain.RepoSummary{1: summaries("a", "b")},
			errs:          map[int]error{2: transient},
			expected:      []string{"a", "b"},
			expectedPages: 2,
			expectError:   transient,
		},
		{
			name:          "names repeated across a page boundary are yielded once",
			start:         1,
			pages:         map[int][]domain.RepoSummary{1: summaries("a", "b"), 2: summaries("b", "c"), 3: {}},
			expected:      []string{"a", "b", "c"},
			expectedPages: 3,
		},
		{
			name:          "starts at the given page",
			start:         3,
			pages:         map[int][]domain.RepoSummary{3: summaries("e")},
			expected:      []string{"e"},
			expectedPages: 1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := new(mockFetcher)
			for page, repos := range tc.pages {
				fetcher.On("ListOrgRepos", mock.Anything, "acme", page, 2).Return(repos, nil).Once()
			}
			for page, err := range tc.errs {
				fetcher.On("ListOrgRepos", mock.Anything, "acme", page, 2).Return(nil, err).Once()
			}
			enumerator := NewEnumerator(fetcher, discardLogger())
			enumerator.pageSize = 2

			got := []domain.RepoSummary{}
			var errs []error
			for repo, err := range enumerator.EnumerateFrom(context.Background(), "acme", tc.start) {
				if err != nil {
					errs = append(errs, err)
					continue
				}
				got = append(got, repo)
			}

			assert.Equal(t, tc.expected, names(got))
			if tc.expectError != nil {
				require.Len(t, errs, 1)
				assert.ErrorIs(t, errs[0], tc.expectError)
			} else {
				assert.Empty(t, errs)
			}
			fetcher.AssertNumberOfCalls(t, "ListOrgRepos", tc.expectedPages)
		})
	}
}

func TestEnumerator_IsLazy(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("ListOrgRepos", mock.Anything, "acme", 1, PageSize).Return(makeRepos("r", PageSize), nil).Once()
	enumerator := NewEnumerator(fetcher, discardLogger())

	seq := enumerator.Enumerate(context.Background(), "acme")
	fetcher.AssertNotCalled(t, "ListOrgRepos", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	for repo, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, "r-0000", repo.Name)
		break
	}
	// Page 2 is never requested once the consumer stops.
	fetcher.AssertNumberOfCalls(t, "ListOrgRepos", 1)
}
