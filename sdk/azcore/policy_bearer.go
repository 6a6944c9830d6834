package azcore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// tokens are refreshed this long before they expire
const tokenRefreshWindow = 5 * time.Minute

// AuthorizationHandler lets a client customize how the bearer policy
// authorizes requests. Key Vault uses it to implement challenge-based
// authentication.
type AuthorizationHandler struct {
	// OnRequest authorizes the outgoing request. Call authorize to fetch a
	// token for arbitrary parameters and set the Authorization header.
	// When nil, the policy authorizes with its configured scopes.
	OnRequest func(req *Request, authorize func(TokenRequestOptions) error) error

	// OnChallenge handles a 401 carrying a WWW-Authenticate challenge. On
	// success the request is replayed once. When nil, the 401 is returned
	// to the caller.
	OnChallenge func(req *Request, resp *http.Response, authorize func(TokenRequestOptions) error) error
}

// BearerTokenOptions configures NewBearerTokenPolicy.
type BearerTokenOptions struct {
	AuthorizationHandler AuthorizationHandler
}

// BearerTokenPolicy authorizes requests with a bearer token from a
// TokenCredential. Tokens are cached and refreshed shortly before expiry;
// concurrent requests share one refresh.
type BearerTokenPolicy struct {
	cred    TokenCredential
	scopes  []string
	handler AuthorizationHandler

	mu       sync.Mutex
	cacheKey string
	token    AccessToken
	haveTk   bool
}

// NewBearerTokenPolicy creates the auth policy for a client. A nil
// credential yields a pass-through policy for anonymous access.
func NewBearerTokenPolicy(cred TokenCredential, scopes []string, opts *BearerTokenOptions) *BearerTokenPolicy {
	p := &BearerTokenPolicy{cred: cred, scopes: scopes}
	if opts != nil {
		p.handler = opts.AuthorizationHandler
	}
	return p
}

func (b *BearerTokenPolicy) Do(req *Request) (*http.Response, error) {
	if b.cred == nil {
		return req.Next()
	}
	authorize := func(opts TokenRequestOptions) error {
		tk, err := b.resolveToken(req.Raw().Context(), opts)
		if err != nil {
			return err
		}
		req.Raw().Header.Set(headerAuthorization, bearerPrefix+tk)
		return nil
	}

	var err error
	if b.handler.OnRequest != nil {
		err = b.handler.OnRequest(req, authorize)
	} else {
		err = authorize(TokenRequestOptions{Scopes: b.scopes})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to authorize request: %w", err)
	}

	resp, err := req.Next()
	if err != nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusUnauthorized && b.handler.OnChallenge != nil {
		if challenge := resp.Header.Get(headerWWWAuthenticate); challenge != "" {
			if cerr := b.handler.OnChallenge(req, resp, authorize); cerr != nil {
				return nil, fmt.Errorf("failed to answer auth challenge: %w", cerr)
			}
			Drain(resp)
			if rerr := req.RewindBody(); rerr != nil {
				return nil, rerr
			}
			return req.Next()
		}
	}
	return resp, nil
}

// resolveToken serves from cache while fresh; otherwise one caller fetches
// while the rest wait on the mutex.
func (b *BearerTokenPolicy) resolveToken(ctx context.Context, opts TokenRequestOptions) (string, error) {
	key := strings.Join(opts.Scopes, " ") + "|" + opts.TenantID
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.haveTk && b.cacheKey == key && time.Until(b.token.ExpiresOn) > tokenRefreshWindow {
		return b.token.Token, nil
	}
	tk, err := b.cred.GetToken(ctx, opts)
	if err != nil {
		return "", err
	}
	b.token = tk
	b.cacheKey = key
	b.haveTk = true
	logrus.WithFields(logrus.Fields{
		"scopes":    opts.Scopes,
		"expiresOn": tk.ExpiresOn.Format(time.RFC3339),
	}).Debug("acquired access token")
	return tk.Token, nil
}
