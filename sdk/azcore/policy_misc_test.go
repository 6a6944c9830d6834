package azcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureHeaders(t *testing.T, opts *ClientOptions, mutate func(*Request)) http.Header {
	t.Helper()
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	pl := NewPipeline("widgets", "v1.2.3", PipelineOptions{}, opts)
	req, err := NewRequest(context.Background(), http.MethodGet, srv.URL)
	require.NoError(t, err)
	if mutate != nil {
		mutate(req)
	}
	resp, err := pl.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return got
}

func TestTelemetryPolicyUserAgent(t *testing.T) {
	h := captureHeaders(t, nil, nil)
	ua := h.Get("User-Agent")
	assert.True(t, strings.HasPrefix(ua, "azsdk-go-widgets/v1.2.3"), "got %q", ua)
}

func TestTelemetryPolicyApplicationID(t *testing.T) {
	h := captureHeaders(t, &ClientOptions{Telemetry: TelemetryOptions{ApplicationID: "my app"}}, nil)
	assert.True(t, strings.HasPrefix(h.Get("User-Agent"), "my/app azsdk-go-widgets/"), "got %q", h.Get("User-Agent"))
}

func TestTelemetryPolicyDisabled(t *testing.T) {
	h := captureHeaders(t, &ClientOptions{Telemetry: TelemetryOptions{Disabled: true}}, nil)
	assert.NotContains(t, h.Get("User-Agent"), "azsdk-go-")
}

func TestRequestIDPolicyGeneratesID(t *testing.T) {
	h := captureHeaders(t, nil, nil)
	id := h.Get("x-ms-client-request-id")
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "generated request id should be a uuid")
	assert.Equal(t, "true", h.Get("x-ms-return-client-request-id"))
}

func TestRequestIDPolicyKeepsCallerID(t *testing.T) {
	h := captureHeaders(t, nil, func(req *Request) {
		req.Raw().Header.Set("x-ms-client-request-id", "caller-chosen")
	})
	assert.Equal(t, "caller-chosen", h.Get("x-ms-client-request-id"))
}
