package azcore

import (
	"net/http"

	"github.com/google/uuid"
)

// requestIDPolicy stamps every call with a client-generated correlation id
// and asks the service to echo it back.
type requestIDPolicy struct{}

func newRequestIDPolicy() requestIDPolicy {
	return requestIDPolicy{}
}

func (requestIDPolicy) Do(req *Request) (*http.Response, error) {
	header := req.Raw().Header
	if header.Get(headerXMSClientRequestID) == "" {
		header.Set(headerXMSClientRequestID, uuid.NewString())
	}
	if header.Get(headerXMSReturnClientReqID) == "" {
		header.Set(headerXMSReturnClientReqID, "true")
	}
	return req.Next()
}
