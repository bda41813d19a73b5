package identity

import (
	"context"
	"net/http"
)

// TokenSource yields the access token of the live session, or "" when no
// session is established.
type TokenSource interface {
	AccessToken() string
}

// AuthTransport is an http.RoundTripper that attaches the current access
// token as a bearer header and reports upstream authorization failures so
// the session engine can tear the session down.
type AuthTransport struct {
	// Base is the underlying transport; nil means http.DefaultTransport.
	Base http.RoundTripper
	// Tokens supplies the access token for outgoing requests.
	Tokens TokenSource
	// OnUnauthorized runs when the upstream answers 401 Unauthorized.
	OnUnauthorized func(ctx context.Context)
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	out := req.Clone(req.Context())
	if t.Tokens != nil {
		if token := t.Tokens.AccessToken(); token != "" {
			out.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.OnUnauthorized != nil {
		t.OnUnauthorized(req.Context())
	}
	return resp, nil
}
