package azcore

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// TelemetryOptions configures the User-Agent header.
type TelemetryOptions struct {
	// ApplicationID is prepended to the SDK portion of the header.
	ApplicationID string

	// Disabled suppresses the header entirely.
	Disabled bool
}

type telemetryPolicy struct {
	userAgent string
	disabled  bool
}

func newTelemetryPolicy(module, version string, o *TelemetryOptions) *telemetryPolicy {
	if o.Disabled {
		return &telemetryPolicy{disabled: true}
	}
	ua := fmt.Sprintf("azsdk-go-%s/%s (%s; %s)", module, version, runtime.Version(), runtime.GOOS)
	if appID := strings.TrimSpace(o.ApplicationID); appID != "" {
		// cap and strip spaces per the telemetry guidelines
		if len(appID) > 24 {
			appID = appID[:24]
		}
		appID = strings.ReplaceAll(appID, " ", "/")
		ua = appID + " " + ua
	}
	return &telemetryPolicy{userAgent: ua}
}

func (p *telemetryPolicy) Do(req *Request) (*http.Response, error) {
	if p.disabled || req.Raw().Header.Get(headerUserAgent) != "" {
		return req.Next()
	}
	req.Raw().Header.Set(headerUserAgent, p.userAgent)
	return req.Next()
}
