package azidentity

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

// fakeTokenEndpoint serves the client credentials grant, recording each
// request's form for assertions.
func fakeTokenEndpoint(t *testing.T, tenantID string) (*httptest.Server, *[]map[string]string) {
	t.Helper()
	var requests []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprintf("/%s/oauth2/v2.0/token", tenantID), r.URL.Path)
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		requests = append(requests, form)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"fake-token","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestClientSecretCredential(t *testing.T) {
	srv, requests := fakeTokenEndpoint(t, "fake-tenant")
	cred, err := NewClientSecretCredential("fake-tenant", "fake-client", "fake-secret", &ClientSecretCredentialOptions{
		AuthorityHost: srv.URL,
	})
	require.NoError(t, err)

	opts := azcore.TokenRequestOptions{Scopes: []string{"https://vault.azure.net/.default"}}
	tk, err := cred.GetToken(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "fake-token", tk.Token)
	assert.False(t, tk.ExpiresOn.IsZero())

	require.Len(t, *requests, 1)
	form := (*requests)[0]
	assert.Equal(t, "client_credentials", form["grant_type"])
	assert.Equal(t, "fake-client", form["client_id"])
	assert.Equal(t, "fake-secret", form["client_secret"])
	assert.Equal(t, "https://vault.azure.net/.default", form["scope"])
}

func TestClientSecretCredentialCachesToken(t *testing.T) {
	srv, requests := fakeTokenEndpoint(t, "fake-tenant")
	cred, err := NewClientSecretCredential("fake-tenant", "fake-client", "fake-secret", &ClientSecretCredentialOptions{
		AuthorityHost: srv.URL,
	})
	require.NoError(t, err)

	opts := azcore.TokenRequestOptions{Scopes: []string{"https://vault.azure.net/.default"}}
	for i := 0; i < 3; i++ {
		_, err = cred.GetToken(context.Background(), opts)
		require.NoError(t, err)
	}
	assert.Len(t, *requests, 1, "a valid token should be served from cache")

	// a different scope set misses the cache
	_, err = cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"https://storage.azure.com/.default"}})
	require.NoError(t, err)
	assert.Len(t, *requests, 2)
}

func TestClientSecretCredentialAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
	}))
	defer srv.Close()

	cred, err := NewClientSecretCredential("fake-tenant", "fake-client", "wrong-secret", &ClientSecretCredentialOptions{
		AuthorityHost: srv.URL,
	})
	require.NoError(t, err)

	_, err = cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ClientSecretCredential")
	assert.False(t, credentialUnavailable(err), "a rejected secret is a hard failure, not unavailability")
}

func TestNewClientSecretCredentialValidation(t *testing.T) {
	_, err := NewClientSecretCredential("", "client", "secret", nil)
	assert.Error(t, err)
	_, err = NewClientSecretCredential("tenant", "", "secret", nil)
	assert.Error(t, err)
	_, err = NewClientSecretCredential("tenant", "client", "", nil)
	assert.Error(t, err)
}
