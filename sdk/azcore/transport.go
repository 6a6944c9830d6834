package azcore

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	transportOnce   sync.Once
	sharedTransport *http.Client
)

// defaultTransport returns the shared HTTP client used when ClientOptions
// does not supply one. Redirects are never auto-followed; the redirect
// policy owns that behavior.
func defaultTransport() Transporter {
	transportOnce.Do(func() {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		sharedTransport = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ForceAttemptHTTP2:     true,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	})
	return transportClient{client: sharedTransport}
}

type transportClient struct {
	client *http.Client
}

func (t transportClient) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}
