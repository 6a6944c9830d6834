package azsecrets

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

func challengeResponse(header string) *http.Response {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("WWW-Authenticate", header)
	return resp
}

func TestParseChallengeResourceParameter(t *testing.T) {
	h := &challengeHandler{}
	req, err := azcore.NewRequest(context.Background(), http.MethodGet, "https://myvault.vault.azure.net/secrets/s")
	require.NoError(t, err)

	scope, tenant, err := h.parseChallenge(req, challengeResponse(
		`Bearer authorization="https://login.microsoftonline.com/tenant-a", resource="https://vault.azure.net"`))
	require.NoError(t, err)
	assert.Equal(t, "https://vault.azure.net/.default", scope)
	assert.Equal(t, "tenant-a", tenant)
}

func TestParseChallengeScopeParameter(t *testing.T) {
	h := &challengeHandler{}
	req, err := azcore.NewRequest(context.Background(), http.MethodGet, "https://myvault.vault.azure.net/secrets/s")
	require.NoError(t, err)

	scope, tenant, err := h.parseChallenge(req, challengeResponse(
		`Bearer authorization="https://login.microsoftonline.com/tenant-b/oauth2/authorize", scope="https://vault.azure.net/.default"`))
	require.NoError(t, err)
	assert.Equal(t, "https://vault.azure.net/.default", scope)
	assert.Equal(t, "tenant-b", tenant)
}

func TestParseChallengeMissingResource(t *testing.T) {
	h := &challengeHandler{}
	req, err := azcore.NewRequest(context.Background(), http.MethodGet, "https://myvault.vault.azure.net/secrets/s")
	require.NoError(t, err)

	_, _, err = h.parseChallenge(req, challengeResponse(
		`Bearer authorization="https://login.microsoftonline.com/tenant-a"`))
	assert.Error(t, err)

	_, _, err = h.parseChallenge(req, challengeResponse(`Basic realm="vault"`))
	assert.Error(t, err)
}

func TestVerifyChallengeResource(t *testing.T) {
	assert.NoError(t, verifyChallengeResource("https://vault.azure.net/.default", "myvault.vault.azure.net"))
	assert.NoError(t, verifyChallengeResource("https://vault.azure.net/.default", "vault.azure.net"))
	assert.Error(t, verifyChallengeResource("https://evil.example.com/.default", "myvault.vault.azure.net"))
	// a bare suffix without the dot boundary must not match
	assert.Error(t, verifyChallengeResource("https://zure.net/.default", "myvault.vault.azure.net"))
}

func TestChallengeWithholdsBodyUntilAuthorized(t *testing.T) {
	type recorded struct {
		auth string
		body string
	}
	var requests []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, 1024)
		n, _ := r.Body.Read(body)
		requests = append(requests, recorded{auth: r.Header.Get("Authorization"), body: string(body[:n])})
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate",
				`Bearer authorization="https://login.microsoftonline.com/tenant-a", resource="https://vault.azure.net"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id":"https://v/secrets/s/1","value":"shh"}`)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, &countingCredential{}, &ClientOptions{DisableChallengeResourceVerification: true})
	require.NoError(t, err)

	secret, err := client.SetSecret(context.Background(), "s", "shh", nil)
	require.NoError(t, err)
	assert.Equal(t, "shh", *secret.Value)

	require.Len(t, requests, 2)
	assert.Empty(t, requests[0].auth)
	assert.Empty(t, requests[0].body, "the payload must not travel unauthenticated")
	assert.Equal(t, "Bearer vault-token", requests[1].auth)
	assert.Contains(t, requests[1].body, "shh")
}

func TestChallengeScopeCachedAcrossRequests(t *testing.T) {
	challenges := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			challenges++
			w.Header().Set("WWW-Authenticate",
				`Bearer authorization="https://login.microsoftonline.com/tenant-a", resource="https://vault.azure.net"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id":"https://v/secrets/s/1"}`)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, &countingCredential{}, &ClientOptions{DisableChallengeResourceVerification: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := client.GetSecret(context.Background(), "s", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, challenges)
}
