package azcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelinePolicyOrder(t *testing.T) {
	var order []string
	record := func(name string) Policy {
		return PolicyFunc(func(req *Request) (*http.Response, error) {
			order = append(order, name)
			return req.Next()
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pl := NewPipeline("azcore", "v0.0.1", PipelineOptions{
		PerCall:  []Policy{record("client-per-call")},
		PerRetry: []Policy{record("client-per-retry")},
	}, &ClientOptions{
		PerCallPolicies:  []Policy{record("user-per-call")},
		PerRetryPolicies: []Policy{record("user-per-retry")},
	})

	req, err := NewRequest(context.Background(), http.MethodGet, srv.URL)
	require.NoError(t, err)
	resp, err := pl.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{"client-per-call", "user-per-call", "client-per-retry", "user-per-retry"}, order,
		"client policies must run before user policies in each slot")
}

func TestPipelineCustomHookSeesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-test", "hello")
	}))
	defer srv.Close()

	var observed string
	hook := PolicyFunc(func(req *Request) (*http.Response, error) {
		resp, err := req.Next()
		if err == nil {
			observed = resp.Header.Get("x-test")
		}
		return resp, err
	})

	pl := NewPipeline("azcore", "v0.0.1", PipelineOptions{}, &ClientOptions{PerCallPolicies: []Policy{hook}})
	req, err := NewRequest(context.Background(), http.MethodGet, srv.URL)
	require.NoError(t, err)
	resp, err := pl.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "hello", observed)
}

func TestPipelineTransportError(t *testing.T) {
	pl := NewPipeline("azcore", "v0.0.1", PipelineOptions{}, &ClientOptions{
		Retry: RetryOptions{MaxRetries: -1},
	})
	// port 1 refuses connections
	req, err := NewRequest(context.Background(), http.MethodGet, "http://127.0.0.1:1/")
	require.NoError(t, err)
	_, err = pl.Do(req)
	require.Error(t, err)
	var te *TransportError
	assert.ErrorAs(t, err, &te, "transport failures must surface as TransportError")
}

func TestNewRequestRejectsRelativeURL(t *testing.T) {
	_, err := NewRequest(context.Background(), http.MethodGet, "/not/absolute")
	assert.Error(t, err)
}

func TestRequestOperationValue(t *testing.T) {
	type hint struct{ v string }

	req, err := NewRequest(context.Background(), http.MethodGet, "https://example.com")
	require.NoError(t, err)

	var out hint
	assert.False(t, req.OperationValue(&out))

	req.SetOperationValue(hint{v: "x"})
	require.True(t, req.OperationValue(&out))
	assert.Equal(t, "x", out.v)
}
