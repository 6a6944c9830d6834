package azcore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// ErrTooManyRedirects is returned when a redirect chain exceeds the
// configured limit.
var ErrTooManyRedirects = errors.New("too many redirects")

// RedirectOptions configures the redirect policy.
type RedirectOptions struct {
	// MaxRedirects is the number of redirects to follow. Defaults to 3.
	// A negative value disables following entirely.
	MaxRedirects int32
}

type redirectPolicy struct {
	maxRedirects int32
}

func newRedirectPolicy(o *RedirectOptions) *redirectPolicy {
	p := &redirectPolicy{maxRedirects: 3}
	if o.MaxRedirects != 0 {
		p.maxRedirects = o.MaxRedirects
	}
	return p
}

func (p *redirectPolicy) Do(req *Request) (*http.Response, error) {
	resp, err := req.Next()
	if err != nil || p.maxRedirects < 0 {
		return resp, err
	}
	cur := req
	for redirects := int32(0); ; redirects++ {
		loc, convertToGet, ok := redirectTarget(resp, cur.Raw().Method)
		if !ok {
			return resp, nil
		}
		if redirects >= p.maxRedirects {
			Drain(resp)
			return nil, fmt.Errorf("abandoned after %d redirects: %w", redirects, ErrTooManyRedirects)
		}
		u, perr := cur.Raw().URL.Parse(loc)
		if perr != nil {
			Drain(resp)
			return nil, fmt.Errorf("failed to parse redirect location %q: %w", loc, perr)
		}
		Drain(resp)

		next := cur.Clone(cur.Raw().Context())
		next.req.URL = u
		next.req.Host = ""
		if convertToGet {
			next.req.Method = http.MethodGet
			next.body = nil
			next.req.Body = nil
			next.req.ContentLength = 0
			next.req.Header.Del(headerContentType)
			next.req.Header.Del(headerContentLength)
		} else if rerr := next.RewindBody(); rerr != nil {
			return nil, rerr
		}
		// never leak credentials to a different host
		if u.Host != req.Raw().URL.Host {
			next.req.Header.Del(headerAuthorization)
		}
		logrus.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"location": u.Redacted(),
		}).Debug("following redirect")

		resp, err = next.Next()
		if err != nil {
			return resp, err
		}
		cur = next
	}
}

// redirectTarget reports the Location of a redirect response and whether the
// method must collapse to GET, per RFC 7231: 303 always rewrites (except
// HEAD), 301/302 rewrite POST, 307/308 preserve the method and body.
func redirectTarget(resp *http.Response, method string) (string, bool, bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound:
		loc := resp.Header.Get(headerLocation)
		return loc, method == http.MethodPost, loc != ""
	case http.StatusSeeOther:
		loc := resp.Header.Get(headerLocation)
		return loc, method != http.MethodHead, loc != ""
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		loc := resp.Header.Get(headerLocation)
		return loc, false, loc != ""
	}
	return "", false, false
}
