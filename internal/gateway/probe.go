package gateway

import (
	"context"
	"net/http"
	"sync"
)

type probeKey struct{}

// probe captures the status and headers of the last HTTP response produced for
// a request context. Both the REST and the GraphQL client report through it, so
// one classifier serves both.
type probe struct {
	mu     sync.Mutex
	status int
	header http.Header
}

func withProbe(ctx context.Context) (context.Context, *probe) {
	p := &probe{}
	return context.WithValue(ctx, probeKey{}, p), p
}

func (p *probe) record(resp *http.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = resp.StatusCode
	p.header = resp.Header.Clone()
}

func (p *probe) result() (int, http.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.header
}

// probeTransport records every response into the probe found on the request context.
type probeTransport struct {
	base http.RoundTripper
}

func (t *probeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if resp != nil {
		if p, ok := req.Context().Value(probeKey{}).(*probe); ok {
			p.record(resp)
		}
	}
	return resp, err
}

// withProbeTransport returns a shallow copy of c whose transport feeds the probe.
func withProbeTransport(c *http.Client) *http.Client {
	if c == nil {
		c = &http.Client{}
	}
	wrapped := *c
	wrapped.Transport = &probeTransport{base: c.Transport}
	return &wrapped
}
