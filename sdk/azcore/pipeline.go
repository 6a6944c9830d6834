package azcore

import (
	"net/http"
)

// Policy is one stage of the request pipeline. A policy inspects or mutates
// the request, calls req.Next() to hand off to the following stage, then
// inspects or mutates the result on the way back out.
type Policy interface {
	Do(req *Request) (*http.Response, error)
}

// PolicyFunc adapts a function to the Policy interface, for one-off hooks.
type PolicyFunc func(*Request) (*http.Response, error)

func (f PolicyFunc) Do(req *Request) (*http.Response, error) {
	return f(req)
}

// Transporter sends an HTTP request and returns the response. It terminates
// the pipeline.
type Transporter interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pipeline is an immutable chain of policies ending in a transport.
type Pipeline struct {
	policies []Policy
}

// NewPipeline assembles the standard policy chain for a service client.
// module and version identify the client package for telemetry and metrics.
//
// Order, outermost first: telemetry, client per-call, caller per-call,
// request id, retry, client per-retry (auth lives here), caller per-retry,
// redirect, logging, tracing, metrics, transport. Policies before retry run
// once per API call; policies after it run once per attempt.
func NewPipeline(module, version string, plOpts PipelineOptions, options *ClientOptions) Pipeline {
	cp := ClientOptions{}
	if options != nil {
		cp = *options
	}
	cp.Logging.allowedHeaders = plOpts.AllowedHeaders
	cp.Logging.allowedQueryParams = plOpts.AllowedQueryParams

	policies := []Policy{newTelemetryPolicy(module, version, &cp.Telemetry)}
	policies = append(policies, plOpts.PerCall...)
	policies = append(policies, cp.PerCallPolicies...)
	policies = append(policies, newRequestIDPolicy())
	policies = append(policies, newRetryPolicy(&cp.Retry))
	policies = append(policies, plOpts.PerRetry...)
	policies = append(policies, cp.PerRetryPolicies...)
	policies = append(policies, newRedirectPolicy(&cp.Redirect))
	policies = append(policies, newLogPolicy(&cp.Logging))
	policies = append(policies, newTracingPolicy(module, version, &cp.Tracing))
	policies = append(policies, newMetricsPolicy(module, &cp.Metrics))
	transport := cp.Transport
	if transport == nil {
		transport = defaultTransport()
	}
	policies = append(policies, transportPolicy{transport: transport})
	return Pipeline{policies: policies}
}

// NewPipelineFromPolicies builds a pipeline from an explicit policy list,
// mainly for tests. The transport policy is appended.
func NewPipelineFromPolicies(transport Transporter, policies ...Policy) Pipeline {
	if transport == nil {
		transport = defaultTransport()
	}
	all := make([]Policy, 0, len(policies)+1)
	all = append(all, policies...)
	all = append(all, transportPolicy{transport: transport})
	return Pipeline{policies: all}
}

// Do sends the request through the pipeline.
func (p Pipeline) Do(req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errNilRequest
	}
	req.policies = p.policies
	return req.Next()
}

type transportPolicy struct {
	transport Transporter
}

func (t transportPolicy) Do(req *Request) (*http.Response, error) {
	resp, err := t.transport.Do(req.Raw())
	if err != nil {
		return nil, &TransportError{err: err}
	}
	return resp, nil
}
