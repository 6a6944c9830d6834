package azcore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredential struct {
	calls   int32
	token   string
	expires time.Time
	err     error
}

func (c *fakeCredential) GetToken(ctx context.Context, opts TokenRequestOptions) (AccessToken, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return AccessToken{}, c.err
	}
	return AccessToken{Token: c.token, ExpiresOn: c.expires}, nil
}

func bearerPipeline(cred TokenCredential, opts *BearerTokenOptions) Pipeline {
	return NewPipeline("azcore", "v0.0.1", PipelineOptions{
		PerRetry: []Policy{NewBearerTokenPolicy(cred, []string{"https://example.com/.default"}, opts)},
	}, nil)
}

func TestBearerTokenPolicySetsHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	cred := &fakeCredential{token: "tok-1", expires: time.Now().Add(time.Hour)}
	req, err := NewRequest(context.Background(), http.MethodGet, srv.URL)
	require.NoError(t, err)
	resp, err := bearerPipeline(cred, nil).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer tok-1", got)
}

func TestBearerTokenPolicyCachesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cred := &fakeCredential{token: "tok-1", expires: time.Now().Add(time.Hour)}
	pl := bearerPipeline(cred, nil)
	for i := 0; i < 3; i++ {
		req, err := NewRequest(context.Background(), http.MethodGet, srv.URL)
		require.NoError(t, err)
		resp, err := pl.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&cred.calls), "a fresh token must be served from cache")
}

func TestBearerTokenPolicyRefreshesNearExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// inside the refresh window, every request refetches
	cred := &fakeCredential{token: "tok", expires: time.Now().Add(time.Minute)}
	pl := bearerPipeline(cred, nil)
	for i := 0; i < 2; i++ {
		req, err := NewRequest(context.Background(), http.MethodGet, srv.URL)
		require.NoError(t, err)
		resp, err := pl.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&cred.calls))
}

func TestBearerTokenPolicyCredentialError(t *testing.T) {
	cred := &fakeCredential{err: fmt.Errorf("no token for you")}
	req, err := NewRequest(context.Background(), http.MethodGet, "https://example.com")
	require.NoError(t, err)
	_, err = bearerPipeline(cred, nil).Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to authorize request")
}

func TestBearerTokenPolicyChallenge(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.Header().Set("WWW-Authenticate", `Bearer authorization="https://login.example.com/tenant", resource="https://vault.example.com"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer challenge-tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var challenged bool
	cred := &fakeCredential{token: "challenge-tok", expires: time.Now().Add(time.Hour)}
	opts := &BearerTokenOptions{AuthorizationHandler: AuthorizationHandler{
		OnRequest: func(req *Request, authorize func(TokenRequestOptions) error) error {
			// first round goes out anonymously
			return nil
		},
		OnChallenge: func(req *Request, resp *http.Response, authorize func(TokenRequestOptions) error) error {
			challenged = true
			assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
			return authorize(TokenRequestOptions{Scopes: []string{"https://vault.example.com/.default"}})
		},
	}}

	req, err := NewRequest(context.Background(), http.MethodGet, srv.URL)
	require.NoError(t, err)
	resp, err := bearerPipeline(cred, opts).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, challenged)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "request must be replayed with the challenge token")
	assert.EqualValues(t, 2, atomic.LoadInt32(&requests))
}
