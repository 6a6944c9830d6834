package azcore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for errors.Is classification of service failures. A
// *ResponseError matches the sentinel its status code (and the operation's
// error map) assigns it.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrResourceExists       = errors.New("resource already exists")
	ErrResourceModified     = errors.New("resource was modified")
	ErrResourceNotModified  = errors.New("resource not modified")
	ErrResourceReadOnly     = errors.New("resource is read-only")
	ErrPreconditionFailed   = errors.New("precondition failed")
)

var (
	errNilRequest        = errors.New("nil request")
	errPipelineExhausted = errors.New("no more policies in the pipeline")
	errNoMorePages       = errors.New("no more pages")
)

var defaultErrorMap = map[int]error{
	http.StatusNotModified:        ErrResourceNotModified,
	http.StatusUnauthorized:       ErrAuthenticationFailed,
	http.StatusForbidden:          ErrAuthenticationFailed,
	http.StatusNotFound:           ErrResourceNotFound,
	http.StatusConflict:           ErrResourceExists,
	http.StatusPreconditionFailed: ErrPreconditionFailed,
}

// ResponseError is returned when a service request completes with a
// non-success status code. It preserves the response for callers that need
// headers or the raw payload.
type ResponseError struct {
	StatusCode int

	// ErrorCode is the service-assigned code from the x-ms-error-code
	// header or the error.code body field, when present.
	ErrorCode string

	RawResponse *http.Response

	body     []byte
	sentinel error
}

// NewResponseError builds a *ResponseError from a non-success response,
// classifying it by the default status mapping.
func NewResponseError(resp *http.Response) error {
	return NewResponseErrorWithMap(resp, nil)
}

// NewResponseErrorWithMap builds a *ResponseError using per-operation
// sentinel overrides, the way conditional-request operations remap 412 and
// 409. Statuses absent from the override map fall back to the defaults.
func NewResponseErrorWithMap(resp *http.Response, overrides map[int]error) error {
	respErr := &ResponseError{
		StatusCode:  resp.StatusCode,
		RawResponse: resp,
	}
	if body, err := Payload(resp); err == nil {
		respErr.body = body
	}
	respErr.ErrorCode = extractErrorCode(resp, respErr.body)
	if s, ok := overrides[resp.StatusCode]; ok {
		respErr.sentinel = s
	} else {
		respErr.sentinel = defaultErrorMap[resp.StatusCode]
	}
	return respErr
}

func extractErrorCode(resp *http.Response, body []byte) string {
	if code := resp.Header.Get(headerXMSErrorCode); code != "" {
		return code
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Code != "" {
			return envelope.Error.Code
		}
		return envelope.Code
	}
	return ""
}

func (e *ResponseError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "request failed with status %d", e.StatusCode)
	if e.RawResponse != nil && e.RawResponse.Request != nil {
		fmt.Fprintf(&sb, " (%s %s)", e.RawResponse.Request.Method, sanitizeURL(e.RawResponse.Request.URL, nil))
	}
	if e.ErrorCode != "" {
		fmt.Fprintf(&sb, ": %s", e.ErrorCode)
	}
	if len(e.body) > 0 {
		excerpt := string(e.body)
		if len(excerpt) > 512 {
			excerpt = excerpt[:512] + "…"
		}
		fmt.Fprintf(&sb, "\n%s", excerpt)
	}
	return sb.String()
}

// Is lets errors.Is match the sentinel assigned by the error map.
func (e *ResponseError) Is(target error) bool {
	return e.sentinel != nil && target == e.sentinel
}

// TransportError wraps a failure to complete the HTTP exchange at all:
// connection refused, DNS failure, context cancellation. It is always
// retriable as far as the retry policy is concerned.
type TransportError struct {
	err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to send request: %v", e.err)
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// HasStatusCode reports whether the response carries one of the given
// status codes.
func HasStatusCode(resp *http.Response, statusCodes ...int) bool {
	if resp == nil {
		return false
	}
	for _, sc := range statusCodes {
		if resp.StatusCode == sc {
			return true
		}
	}
	return false
}
