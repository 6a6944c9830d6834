package azsecrets

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// heldBody is a request payload withheld until the vault's challenge has
// been answered, so secret material never travels unauthenticated.
type heldBody struct {
	body        io.ReadSeekCloser
	contentType string
}

// challengeHandler negotiates Key Vault's bearer challenge. The first
// request goes out bodyless and unauthorized to draw the 401; its
// WWW-Authenticate header names the authority and resource, which are
// cached so later requests authorize up front.
type challengeHandler struct {
	verifyResource bool

	mu     sync.Mutex
	scope  string
	tenant string
}

func newChallengePolicy(cred azcore.TokenCredential, verifyResource bool) *azcore.BearerTokenPolicy {
	h := &challengeHandler{verifyResource: verifyResource}
	return azcore.NewBearerTokenPolicy(cred, nil, &azcore.BearerTokenOptions{
		AuthorizationHandler: azcore.AuthorizationHandler{
			OnRequest:   h.onRequest,
			OnChallenge: h.onChallenge,
		},
	})
}

func (h *challengeHandler) cached() (scope, tenant string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scope, h.tenant
}

func (h *challengeHandler) onRequest(req *azcore.Request, authorize func(azcore.TokenRequestOptions) error) error {
	scope, tenant := h.cached()
	if scope != "" {
		return authorize(azcore.TokenRequestOptions{Scopes: []string{scope}, TenantID: tenant})
	}
	if req.HasBody() {
		held := heldBody{body: req.Body(), contentType: req.Raw().Header.Get("Content-Type")}
		if err := req.SetBody(azcore.NopCloser(strings.NewReader("")), ""); err != nil {
			return err
		}
		req.SetOperationValue(held)
	}
	return nil
}

func (h *challengeHandler) onChallenge(req *azcore.Request, resp *http.Response, authorize func(azcore.TokenRequestOptions) error) error {
	scope, tenant, err := h.parseChallenge(req, resp)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.scope, h.tenant = scope, tenant
	h.mu.Unlock()

	var held heldBody
	if req.OperationValue(&held) && held.body != nil {
		if err := req.SetBody(held.body, held.contentType); err != nil {
			return err
		}
	}
	return authorize(azcore.TokenRequestOptions{Scopes: []string{scope}, TenantID: tenant})
}

// parseChallenge extracts the token scope and tenant from a
// WWW-Authenticate header of the form
//
//	Bearer authorization="https://login.microsoftonline.com/{tenant}", resource="https://vault.azure.net"
//
// Newer service versions send scope="…/.default" instead of resource.
func (h *challengeHandler) parseChallenge(req *azcore.Request, resp *http.Response) (scope, tenant string, err error) {
	header := resp.Header.Get("WWW-Authenticate")
	params, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", "", fmt.Errorf("unexpected challenge %q", header)
	}
	values := map[string]string{}
	for _, part := range strings.Split(params, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if found {
			values[name] = strings.Trim(value, `"`)
		}
	}

	scope = values["scope"]
	if scope == "" {
		if values["resource"] == "" {
			return "", "", fmt.Errorf("challenge names neither a resource nor a scope")
		}
		scope = values["resource"] + "/.default"
	}
	if h.verifyResource {
		if err := verifyChallengeResource(scope, req.Raw().URL.Hostname()); err != nil {
			return "", "", err
		}
	}

	if auth := values["authorization"]; auth != "" {
		if u, err := url.Parse(auth); err == nil {
			tenant = strings.Trim(u.Path, "/")
			if i := strings.IndexByte(tenant, '/'); i >= 0 {
				tenant = tenant[:i]
			}
		}
	}
	return scope, tenant, nil
}

// verifyChallengeResource requires the challenge's resource domain to
// match the vault the client talks to, so a compromised endpoint cannot
// redirect tokens to itself.
func verifyChallengeResource(scope, requestHost string) error {
	u, err := url.Parse(strings.TrimSuffix(scope, "/.default"))
	if err != nil {
		return fmt.Errorf("failed to parse challenge resource %q: %w", scope, err)
	}
	resourceHost := u.Hostname()
	if resourceHost == "" {
		return fmt.Errorf("challenge resource %q has no host", scope)
	}
	if requestHost != resourceHost && !strings.HasSuffix(requestHost, "."+resourceHost) {
		return fmt.Errorf("challenge resource %q does not match the vault domain %q; set DisableChallengeResourceVerification to trust it",
			resourceHost, requestHost)
	}
	return nil
}
