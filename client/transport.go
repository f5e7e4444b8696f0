package client

import (
	"net/http"
)

// HeaderTransport wraps an http.RoundTripper to add fixed headers
type HeaderTransport struct {
	Base   http.RoundTripper
	Header http.Header
}

// RoundTrip implements http.RoundTripper
func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.Header) > 0 {
		// Clone the request to avoid mutating the original
		req2 := req.Clone(req.Context())
		for k, vs := range t.Header {
			if req2.Header.Get(k) != "" {
				continue
			}
			for _, v := range vs {
				req2.Header.Add(k, v)
			}
		}
		req = req2
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(req)
}

// NewHeaderTransport creates a HeaderTransport sending JSON accept headers
func NewHeaderTransport(base http.RoundTripper, userAgent string) *HeaderTransport {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	return &HeaderTransport{
		Base:   base,
		Header: h,
	}
}
