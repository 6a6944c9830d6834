package azcore

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogOptions configures request/response logging.
type LogOptions struct {
	// Logger receives the log lines. Defaults to the standard logrus logger.
	Logger *logrus.Logger

	// AllowedHeaders are additional headers logged with their values.
	// Everything not allow-listed logs as REDACTED.
	AllowedHeaders []string

	// AllowedQueryParams are additional query parameters logged verbatim.
	AllowedQueryParams []string

	// IncludeBody logs textual payloads, truncated to 1KiB. Off by default.
	IncludeBody bool

	// SlowThreshold promotes responses slower than this to a warning.
	// Defaults to 3s; negative disables the check.
	SlowThreshold time.Duration

	// service-specified extensions, set via PipelineOptions
	allowedHeaders     []string
	allowedQueryParams []string
}

// the headers safe to log in clear text, matching the service team defaults
var defaultAllowedHeaders = []string{
	"Accept",
	"Cache-Control",
	"Connection",
	"Content-Length",
	"Content-Type",
	"Date",
	"ETag",
	"Expires",
	"If-Match",
	"If-Modified-Since",
	"If-None-Match",
	"If-Unmodified-Since",
	"Last-Modified",
	"Pragma",
	"Request-Id",
	"Retry-After",
	"Server",
	"Transfer-Encoding",
	"User-Agent",
	"WWW-Authenticate",
	headerXMSClientRequestID,
	headerXMSRequestID,
	headerXMSReturnClientReqID,
}

var defaultAllowedQueryParams = []string{"api-version"}

type logPolicy struct {
	logger        *logrus.Logger
	headers       map[string]struct{}
	queryParams   map[string]struct{}
	includeBody   bool
	slowThreshold time.Duration
}

func newLogPolicy(o *LogOptions) *logPolicy {
	p := &logPolicy{
		logger:        o.Logger,
		headers:       map[string]struct{}{},
		queryParams:   map[string]struct{}{},
		includeBody:   o.IncludeBody,
		slowThreshold: 3 * time.Second,
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	if o.SlowThreshold != 0 {
		p.slowThreshold = o.SlowThreshold
	}
	for _, set := range [][]string{defaultAllowedHeaders, o.allowedHeaders, o.AllowedHeaders} {
		for _, h := range set {
			p.headers[strings.ToLower(h)] = struct{}{}
		}
	}
	for _, set := range [][]string{defaultAllowedQueryParams, o.allowedQueryParams, o.AllowedQueryParams} {
		for _, q := range set {
			p.queryParams[strings.ToLower(q)] = struct{}{}
		}
	}
	return p
}

func (p *logPolicy) Do(req *Request) (*http.Response, error) {
	raw := req.Raw()
	entry := p.logger.WithFields(logrus.Fields{
		"method": raw.Method,
		"url":    sanitizeURL(raw.URL, p.queryParams),
	})
	if p.logger.IsLevelEnabled(logrus.TraceLevel) {
		entry = entry.WithField("headers", p.sanitizeHeaders(raw.Header))
	}
	entry.Debug("sending request")

	start := time.Now()
	resp, err := req.Next()
	elapsed := time.Since(start)

	if err != nil {
		entry.WithError(err).WithField("elapsed", elapsed.String()).Debug("request failed")
		return resp, err
	}

	respEntry := entry.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"elapsed": elapsed.String(),
	})
	if id := resp.Header.Get(headerXMSRequestID); id != "" {
		respEntry = respEntry.WithField("requestId", id)
	}
	if p.logger.IsLevelEnabled(logrus.TraceLevel) {
		respEntry = respEntry.WithField("headers", p.sanitizeHeaders(resp.Header))
	}
	if p.includeBody && textualContentType(resp.Header.Get(headerContentType)) {
		if body, perr := Payload(resp); perr == nil {
			excerpt := string(body)
			if len(excerpt) > 1024 {
				excerpt = excerpt[:1024] + "…"
			}
			respEntry = respEntry.WithField("body", excerpt)
		}
	}
	if p.slowThreshold > 0 && elapsed > p.slowThreshold {
		respEntry.Warn("slow response")
	} else {
		respEntry.Debug("received response")
	}
	return resp, nil
}

func (p *logPolicy) sanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if _, ok := p.headers[strings.ToLower(name)]; ok {
			out[name] = strings.Join(values, ", ")
		} else {
			out[name] = "REDACTED"
		}
	}
	return out
}

func textualContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "json") || strings.Contains(ct, "xml") || strings.HasPrefix(ct, "text/")
}

// sanitizeURL renders a URL with non-allow-listed query parameter values
// replaced by REDACTED. A nil allow list means the defaults.
func sanitizeURL(u *url.URL, allowed map[string]struct{}) string {
	if u == nil {
		return ""
	}
	if allowed == nil {
		allowed = map[string]struct{}{}
		for _, q := range defaultAllowedQueryParams {
			allowed[q] = struct{}{}
		}
	}
	if u.RawQuery == "" {
		return u.Redacted()
	}
	cp := *u
	q := cp.Query()
	for name := range q {
		if _, ok := allowed[strings.ToLower(name)]; !ok {
			q.Set(name, "REDACTED")
		}
	}
	cp.RawQuery = q.Encode()
	return cp.Redacted()
}
