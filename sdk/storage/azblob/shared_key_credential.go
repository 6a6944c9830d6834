package azblob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// SharedKeyCredential authenticates requests with the storage account key.
type SharedKeyCredential struct {
	accountName string
	accountKey  []byte
}

// NewSharedKeyCredential creates a SharedKeyCredential from the account
// name and its base64-encoded key.
func NewSharedKeyCredential(accountName, accountKey string) (*SharedKeyCredential, error) {
	key, err := base64.StdEncoding.DecodeString(accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode account key: %w", err)
	}
	return &SharedKeyCredential{accountName: accountName, accountKey: key}, nil
}

// AccountName returns the name of the account the key belongs to.
func (c *SharedKeyCredential) AccountName() string {
	return c.accountName
}

func (c *SharedKeyCredential) computeHMACSHA256(message string) string {
	mac := hmac.New(sha256.New, c.accountKey)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// buildStringToSign assembles the shared key canonicalization: the verb,
// eleven standard headers in fixed order, the sorted x-ms-* headers, and
// the account-qualified resource path with its sorted query parameters.
// The Date line stays empty; x-ms-date carries the timestamp.
func (c *SharedKeyCredential) buildStringToSign(req *http.Request) string {
	headers := req.Header
	contentLength := headers.Get("Content-Length")
	if contentLength == "0" {
		contentLength = ""
	}
	return strings.Join([]string{
		req.Method,
		headers.Get("Content-Encoding"),
		headers.Get("Content-Language"),
		contentLength,
		headers.Get("Content-MD5"),
		headers.Get("Content-Type"),
		headers.Get("Date"),
		headers.Get("If-Modified-Since"),
		headers.Get("If-Match"),
		headers.Get("If-None-Match"),
		headers.Get("If-Unmodified-Since"),
		headers.Get("Range"),
	}, "\n") + "\n" + c.canonicalizedHeaders(headers) + c.canonicalizedResource(req.URL)
}

func (c *SharedKeyCredential) canonicalizedHeaders(headers http.Header) string {
	var names []string
	for name := range headers {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-ms-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(strings.TrimSpace(headers.Get(name)))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (c *SharedKeyCredential) canonicalizedResource(u *url.URL) string {
	var sb strings.Builder
	sb.WriteString("/")
	sb.WriteString(c.accountName)
	sb.WriteString(u.EscapedPath())
	params := u.Query()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := params[name]
		sort.Strings(values)
		sb.WriteString("\n")
		sb.WriteString(strings.ToLower(name))
		sb.WriteByte(':')
		sb.WriteString(strings.Join(values, ","))
	}
	return sb.String()
}

// sharedKeyPolicy signs each attempt with a fresh x-ms-date. It runs
// per-retry, after every header the signature covers has been set.
type sharedKeyPolicy struct {
	cred *SharedKeyCredential
}

func (p *sharedKeyPolicy) Do(req *azcore.Request) (*http.Response, error) {
	req.Raw().Header.Set(headerXMSDate, time.Now().UTC().Format(http.TimeFormat))
	signature := p.cred.computeHMACSHA256(p.cred.buildStringToSign(req.Raw()))
	req.Raw().Header.Set("Authorization", "SharedKey "+p.cred.accountName+":"+signature)
	return req.Next()
}
