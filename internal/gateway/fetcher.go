package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/sethvargo/go-retry"

	"github.com/naka-gawa/org-harvest/internal/ratelimit"
)

// Call performs exactly one API request using the given context.
type Call func(ctx context.Context) error

// RetryingFetcher dispatches single API requests under the shared rate budget.
// Every attempt costs one unit of budget regardless of endpoint. Transient
// failures are retried with backoff, permanent ones are reported at once, and
// primary quota exhaustion is absorbed by waiting in the budget.
type RetryingFetcher struct {
	budget *ratelimit.Budget
	policy ratelimit.Policy
	logger *log.Logger
	now    func() time.Time
}

// NewRetryingFetcher creates a fetcher drawing from budget.
func NewRetryingFetcher(budget *ratelimit.Budget, policy ratelimit.Policy, logger *log.Logger) *RetryingFetcher {
	return &RetryingFetcher{
		budget: budget,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Fetch runs call until it succeeds, fails permanently or exhausts the attempt
// ceiling. Failures are reported as *FetchError; a cancelled ctx is returned as is.
func (f *RetryingFetcher) Fetch(ctx context.Context, endpoint string, call Call) error {
	var retryAfter time.Duration
	attempt := 0
	backoff := f.policy.Backoff(func() time.Duration { return retryAfter })

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		for {
			if err := f.budget.Reserve(ctx, 1); err != nil {
				return err
			}
			attempt++

			callCtx, p := withProbe(ctx)
			err := call(callCtx)
			status, header := p.result()
			f.budget.Observe(header)
			if err == nil {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			var rateErr *github.RateLimitError
			if errors.As(err, &rateErr) && rateErr.Rate.Reset.Time.After(f.now()) {
				f.logger.Printf("  Rate limit exhausted on %s, waiting until %s", endpoint, rateErr.Rate.Reset.Time.Format(time.RFC3339))
				f.budget.Exhaust(rateErr.Rate.Reset.Time)
				continue
			}

			fetchErr := classify(endpoint, status, err)
			if fetchErr.Kind == Permanent {
				return fetchErr
			}
			retryAfter = retryAfterOf(err, header)
			f.logger.Printf("  Transient failure on %s (attempt %d): %v", endpoint, attempt, err)
			return retry.RetryableError(fetchErr)
		}
	})
}

// classify maps a failed request to the Transient/Permanent taxonomy. status is
// the last HTTP status observed for the request, zero if none arrived.
func classify(endpoint string, status int, err error) *FetchError {
	var (
		accepted *github.AcceptedError
		abuse    *github.AbuseRateLimitError
		rateErr  *github.RateLimitError
		errResp  *github.ErrorResponse
	)
	switch {
	case errors.As(err, &accepted):
		return &FetchError{Kind: Transient, Endpoint: endpoint, Status: http.StatusAccepted, Err: err}
	case errors.As(err, &abuse):
		return &FetchError{Kind: Transient, Endpoint: endpoint, Status: responseStatus(abuse.Response, http.StatusForbidden), Err: err}
	case errors.As(err, &rateErr):
		return &FetchError{Kind: Transient, Endpoint: endpoint, Status: responseStatus(rateErr.Response, http.StatusForbidden), Err: err}
	case errors.As(err, &errResp):
		status = responseStatus(errResp.Response, status)
	}

	kind := Permanent
	switch {
	case status == 0:
		// No response at all: connection failure or timeout.
		kind = Transient
	case status == http.StatusAccepted, status == http.StatusTooManyRequests, status >= 500:
		kind = Transient
	}
	return &FetchError{Kind: kind, Endpoint: endpoint, Status: status, Err: err}
}

func responseStatus(resp *http.Response, fallback int) int {
	if resp == nil {
		return fallback
	}
	return resp.StatusCode
}

// retryAfterOf returns the server-requested minimum wait, if any.
func retryAfterOf(err error, header http.Header) time.Duration {
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.RetryAfter != nil {
		return *abuse.RetryAfter
	}
	if header != nil {
		if secs, convErr := strconv.Atoi(header.Get("Retry-After")); convErr == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
