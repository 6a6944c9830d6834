package azcore

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
)

// Request travels through the pipeline. It wraps the underlying
// *http.Request with a rewindable body and the policy cursor.
type Request struct {
	req      *http.Request
	body     io.ReadSeekCloser
	policies []Policy
	values   opValues
}

type opValues map[reflect.Type]any

// NewRequest creates a pipeline request for the given endpoint. The context
// governs the whole exchange, retries included.
func NewRequest(ctx context.Context, method, endpoint string) (*Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint %q: %w", endpoint, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("endpoint %q is not absolute", endpoint)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return &Request{req: req}, nil
}

// Raw returns the wrapped *http.Request. Mutations are visible to later
// policies and to the transport.
func (req *Request) Raw() *http.Request {
	return req.req
}

// Next hands the request to the next policy in the chain. The final policy
// is the transport.
func (req *Request) Next() (*http.Response, error) {
	if len(req.policies) == 0 {
		return nil, errPipelineExhausted
	}
	nextPolicy := req.policies[0]
	nextReq := *req
	nextReq.policies = req.policies[1:]
	return nextPolicy.Do(&nextReq)
}

// Clone returns a deep copy of the request with its context replaced. The
// body is shared; callers rewind it via RewindBody.
func (req *Request) Clone(ctx context.Context) *Request {
	clone := *req
	clone.req = req.req.Clone(ctx)
	return &clone
}

// SetBody sets the request payload. The body must be rewindable so retries,
// redirects, and auth challenges can replay it. Pass a zero-length body to
// clear.
func (req *Request) SetBody(body io.ReadSeekCloser, contentType string) error {
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to measure request body: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind request body: %w", err)
	}
	if size == 0 {
		req.body = nil
		req.req.Body = nil
		req.req.ContentLength = 0
		req.req.Header.Del(headerContentType)
		req.req.Header.Del(headerContentLength)
		return nil
	}
	req.body = body
	req.req.Body = body
	req.req.ContentLength = size
	req.req.Header.Set(headerContentLength, strconv.FormatInt(size, 10))
	if contentType != "" {
		req.req.Header.Set(headerContentType, contentType)
	}
	return nil
}

// RewindBody seeks the body back to its start before a replay.
func (req *Request) RewindBody() error {
	if req.body == nil {
		return nil
	}
	if _, err := req.body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind request body: %w", err)
	}
	req.req.Body = req.body
	return nil
}

// HasBody reports whether a payload is attached.
func (req *Request) HasBody() bool {
	return req.body != nil
}

// Body returns the rewindable payload, or nil when none is attached.
// Policies that consume it must call RewindBody before handing the
// request on.
func (req *Request) Body() io.ReadSeekCloser {
	return req.body
}

// SetOperationValue stashes a value policies further down the chain can
// retrieve by type. Clients use it to pass per-operation hints to their own
// policies.
func (req *Request) SetOperationValue(value any) {
	if req.values == nil {
		req.values = opValues{}
	}
	req.values[reflect.TypeOf(value)] = value
}

// OperationValue retrieves a value stored by SetOperationValue into out,
// which must be a non-nil pointer.
func (req *Request) OperationValue(out any) bool {
	v, ok := req.values[reflect.TypeOf(out).Elem()]
	if ok {
		reflect.ValueOf(out).Elem().Set(reflect.ValueOf(v))
	}
	return ok
}

// MarshalAsJSON encodes v and attaches it as an application/json body.
func (req *Request) MarshalAsJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return req.SetBody(NopCloser(bytes.NewReader(data)), "application/json")
}

// NopCloser adds a no-op Close to a ReadSeeker, producing the rewindable
// body SetBody requires.
func NopCloser(rs io.ReadSeeker) io.ReadSeekCloser {
	return nopCloser{rs}
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error {
	return nil
}

// UnmarshalAsJSON reads the response body into v and restores it so later
// readers see the same bytes.
func UnmarshalAsJSON(resp *http.Response, v any) error {
	body, err := Payload(resp)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	return nil
}

// UnmarshalAsXML reads the response body into v, for the storage enumeration
// payloads.
func UnmarshalAsXML(resp *http.Response, v any) error {
	body, err := Payload(resp)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := xml.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	return nil
}

// Payload drains the response body and replaces it with a replayable copy,
// returning the bytes.
func Payload(resp *http.Response) ([]byte, error) {
	if buf, ok := resp.Body.(*payloadBuffer); ok {
		return buf.data, nil
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = &payloadBuffer{data: data, Reader: bytes.NewReader(data)}
	return data, nil
}

type payloadBuffer struct {
	*bytes.Reader
	data []byte
}

func (payloadBuffer) Close() error {
	return nil
}

// Drain discards and closes the response body so the connection can be
// reused. Policies call it before retrying.
func Drain(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// EncodeQueryParams merges params into the request URL, leaving existing
// values in place.
func (req *Request) EncodeQueryParams(params url.Values) {
	if len(params) == 0 {
		return
	}
	q := req.req.URL.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	req.req.URL.RawQuery = q.Encode()
}
