package azcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// OperationState is the lifecycle state of a long-running operation.
type OperationState string

const (
	OperationStateInProgress OperationState = "InProgress"
	OperationStateSucceeded  OperationState = "Succeeded"
	OperationStateFailed     OperationState = "Failed"
	OperationStateCanceled   OperationState = "Canceled"
)

// Terminal reports whether no further state changes can occur.
func (s OperationState) Terminal() bool {
	return s == OperationStateSucceeded || s == OperationStateFailed || s == OperationStateCanceled
}

// PollingHandler drives one polling strategy. Most operations use a built-in
// handler chosen from the initial response; operations with bespoke
// semantics (Key Vault soft delete) supply their own.
type PollingHandler[T any] interface {
	// Done reports whether the operation reached a terminal state.
	Done() bool

	// Poll queries the service once and records the new state.
	Poll(ctx context.Context) (*http.Response, error)

	// Result populates out after the operation succeeds, or returns the
	// terminal error.
	Result(ctx context.Context, out *T) error
}

// NewPollerOptions configures NewPoller.
type NewPollerOptions[T any] struct {
	// Handler replaces strategy detection with a custom implementation.
	Handler PollingHandler[T]
}

// Poller tracks a long-running operation until completion.
type Poller[T any] struct {
	handler  PollingHandler[T]
	lastResp *http.Response

	resolved  bool
	result    T
	resultErr error
}

// NewPoller creates a Poller from the service's initial response, selecting
// a polling strategy: an Operation-Location (or Azure-AsyncOperation) header
// wins, then a Location header, then a provisioningState body. A 2xx
// response with none of these is already terminal.
func NewPoller[T any](resp *http.Response, pl Pipeline, options *NewPollerOptions[T]) (*Poller[T], error) {
	if options != nil && options.Handler != nil {
		return &Poller[T]{handler: options.Handler, lastResp: resp}, nil
	}
	var handler PollingHandler[T]
	switch {
	case resp.Header.Get(headerOperationLocation) != "" || resp.Header.Get(headerAsyncOperation) != "":
		h, err := newOpHandler[T](resp, pl)
		if err != nil {
			return nil, err
		}
		handler = h
	case resp.Header.Get(headerLocation) != "":
		handler = newLocHandler[T](resp, pl)
	case hasProvisioningState(resp):
		handler = newProvHandler[T](resp, pl)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		handler = &syncHandler[T]{resp: resp}
	default:
		return nil, fmt.Errorf("failed to detect a polling strategy for status %d", resp.StatusCode)
	}
	return &Poller[T]{handler: handler, lastResp: resp}, nil
}

// NewPollerFromResumeToken rehydrates a Poller from a token produced by
// ResumeToken, so an operation can be resumed in another process.
func NewPollerFromResumeToken[T any](token string, pl Pipeline) (*Poller[T], error) {
	var tk resumeTokenPayload
	if err := json.Unmarshal([]byte(token), &tk); err != nil {
		return nil, fmt.Errorf("failed to parse resume token: %w", err)
	}
	var handler PollingHandler[T]
	switch tk.Kind {
	case pollKindOperation:
		handler = &opHandler[T]{pl: pl, pollURL: tk.URL, finalURL: tk.FinalURL, state: OperationStateInProgress}
	case pollKindLocation:
		handler = &locHandler[T]{pl: pl, location: tk.URL, state: OperationStateInProgress}
	default:
		return nil, fmt.Errorf("resume token has unknown kind %q", tk.Kind)
	}
	return &Poller[T]{handler: handler}, nil
}

// Done reports whether the operation reached a terminal state.
func (p *Poller[T]) Done() bool {
	return p.handler.Done()
}

// Poll queries the service once, returning the raw polling response.
func (p *Poller[T]) Poll(ctx context.Context) (*http.Response, error) {
	if p.Done() {
		return p.lastResp, nil
	}
	resp, err := p.handler.Poll(ctx)
	if err != nil {
		return nil, err
	}
	p.lastResp = resp
	return resp, nil
}

// Result returns the operation's outcome. It may only be called after Done
// reports true.
func (p *Poller[T]) Result(ctx context.Context) (T, error) {
	var zero T
	if !p.Done() {
		return zero, errors.New("poller is in a non-terminal state")
	}
	if !p.resolved {
		p.resultErr = p.handler.Result(ctx, &p.result)
		p.resolved = true
	}
	if p.resultErr != nil {
		return zero, p.resultErr
	}
	return p.result, nil
}

// PollUntilDoneOptions configures PollUntilDone.
type PollUntilDoneOptions struct {
	// Frequency is the wait between polls when the service expresses no
	// preference via Retry-After. Defaults to 30s, floor 1s.
	Frequency time.Duration
}

// PollUntilDone polls at the configured frequency until the operation
// reaches a terminal state, then returns its result. The service's
// Retry-After header, when present, overrides the frequency.
func (p *Poller[T]) PollUntilDone(ctx context.Context, options *PollUntilDoneOptions) (T, error) {
	freq := 30 * time.Second
	if options != nil && options.Frequency > 0 {
		freq = options.Frequency
	}
	if freq < time.Second {
		freq = time.Second
	}
	start := time.Now()
	for !p.Done() {
		resp, err := p.Poll(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		if p.Done() {
			break
		}
		delay := retryAfter(resp)
		if delay <= 0 {
			delay = freq
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	logrus.WithField("elapsed", time.Since(start).String()).Debug("long-running operation reached terminal state")
	return p.Result(ctx)
}

// ResumeToken serializes the poller so the operation can be rehydrated
// later. Only available for header-driven strategies on unfinished
// operations.
func (p *Poller[T]) ResumeToken() (string, error) {
	if p.Done() {
		return "", errors.New("operation has already completed")
	}
	rt, ok := p.handler.(resumeTokener)
	if !ok {
		return "", errors.New("polling strategy does not support resume tokens")
	}
	return rt.resumeToken()
}

type resumeTokener interface {
	resumeToken() (string, error)
}

const (
	pollKindOperation = "operation-location"
	pollKindLocation  = "location"
)

type resumeTokenPayload struct {
	Kind     string `json:"kind"`
	URL      string `json:"url"`
	FinalURL string `json:"finalURL,omitempty"`
}

// ----- operation-location strategy -----

type opHandler[T any] struct {
	pl       Pipeline
	pollURL  string
	finalURL string
	state    OperationState
	lastBody []byte
	lastResp *http.Response
}

func newOpHandler[T any](resp *http.Response, pl Pipeline) (*opHandler[T], error) {
	pollURL := resp.Header.Get(headerOperationLocation)
	if pollURL == "" {
		pollURL = resp.Header.Get(headerAsyncOperation)
	}
	h := &opHandler[T]{pl: pl, pollURL: pollURL, state: OperationStateInProgress}
	// the final resource usually lives at the original URL; a
	// resourceLocation in the monitor body overrides it
	if resp.Request != nil && resp.Request.Method != http.MethodDelete {
		h.finalURL = resp.Request.URL.String()
	}
	if body, err := Payload(resp); err == nil {
		if st, ok := parseStatus(body); ok {
			h.state = mapOperationStatus(st)
			h.lastBody = body
		}
	}
	return h, nil
}

func (h *opHandler[T]) Done() bool {
	return h.state.Terminal()
}

func (h *opHandler[T]) Poll(ctx context.Context) (*http.Response, error) {
	req, err := NewRequest(ctx, http.MethodGet, h.pollURL)
	if err != nil {
		return nil, err
	}
	resp, err := h.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if !HasStatusCode(resp, http.StatusOK, http.StatusAccepted, http.StatusCreated, http.StatusNoContent) {
		return nil, NewResponseError(resp)
	}
	body, err := Payload(resp)
	if err != nil {
		return nil, err
	}
	if st, ok := parseStatus(body); ok {
		h.state = mapOperationStatus(st)
	}
	var monitor struct {
		ResourceLocation string `json:"resourceLocation"`
	}
	if json.Unmarshal(body, &monitor) == nil && monitor.ResourceLocation != "" {
		h.finalURL = monitor.ResourceLocation
	}
	h.lastBody = body
	h.lastResp = resp
	return resp, nil
}

func (h *opHandler[T]) Result(ctx context.Context, out *T) error {
	switch h.state {
	case OperationStateFailed, OperationStateCanceled:
		if h.lastResp != nil {
			return NewResponseError(h.lastResp)
		}
		return fmt.Errorf("long-running operation ended in state %s", h.state)
	}
	if h.finalURL == "" {
		// nothing to fetch, e.g. a delete
		return nil
	}
	req, err := NewRequest(ctx, http.MethodGet, h.finalURL)
	if err != nil {
		return err
	}
	resp, err := h.pl.Do(req)
	if err != nil {
		return err
	}
	if !HasStatusCode(resp, http.StatusOK) {
		return NewResponseError(resp)
	}
	return UnmarshalAsJSON(resp, out)
}

func (h *opHandler[T]) resumeToken() (string, error) {
	data, err := json.Marshal(resumeTokenPayload{Kind: pollKindOperation, URL: h.pollURL, FinalURL: h.finalURL})
	if err != nil {
		return "", fmt.Errorf("failed to marshal resume token: %w", err)
	}
	return string(data), nil
}

// ----- location strategy -----

type locHandler[T any] struct {
	pl       Pipeline
	location string
	state    OperationState
	lastResp *http.Response
}

func newLocHandler[T any](resp *http.Response, pl Pipeline) *locHandler[T] {
	return &locHandler[T]{pl: pl, location: resp.Header.Get(headerLocation), state: OperationStateInProgress}
}

func (h *locHandler[T]) Done() bool {
	return h.state.Terminal()
}

func (h *locHandler[T]) Poll(ctx context.Context) (*http.Response, error) {
	req, err := NewRequest(ctx, http.MethodGet, h.location)
	if err != nil {
		return nil, err
	}
	resp, err := h.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if loc := resp.Header.Get(headerLocation); loc != "" {
		h.location = loc
	}
	switch {
	case resp.StatusCode == http.StatusAccepted:
		h.state = OperationStateInProgress
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		h.state = OperationStateSucceeded
	default:
		h.state = OperationStateFailed
	}
	h.lastResp = resp
	return resp, nil
}

func (h *locHandler[T]) Result(ctx context.Context, out *T) error {
	if h.state == OperationStateFailed {
		return NewResponseError(h.lastResp)
	}
	if h.lastResp == nil {
		return nil
	}
	return UnmarshalAsJSON(h.lastResp, out)
}

func (h *locHandler[T]) resumeToken() (string, error) {
	data, err := json.Marshal(resumeTokenPayload{Kind: pollKindLocation, URL: h.location})
	if err != nil {
		return "", fmt.Errorf("failed to marshal resume token: %w", err)
	}
	return string(data), nil
}

// ----- provisioningState strategy -----

type provHandler[T any] struct {
	pl       Pipeline
	resURL   string
	state    OperationState
	lastResp *http.Response
}

func newProvHandler[T any](resp *http.Response, pl Pipeline) *provHandler[T] {
	h := &provHandler[T]{pl: pl, resURL: resp.Request.URL.String(), state: OperationStateInProgress}
	if body, err := Payload(resp); err == nil {
		if st, ok := parseProvisioningState(body); ok {
			h.state = mapOperationStatus(st)
		}
	}
	h.lastResp = resp
	return h
}

func (h *provHandler[T]) Done() bool {
	return h.state.Terminal()
}

func (h *provHandler[T]) Poll(ctx context.Context) (*http.Response, error) {
	req, err := NewRequest(ctx, http.MethodGet, h.resURL)
	if err != nil {
		return nil, err
	}
	resp, err := h.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if !HasStatusCode(resp, http.StatusOK, http.StatusCreated, http.StatusAccepted) {
		return nil, NewResponseError(resp)
	}
	body, err := Payload(resp)
	if err != nil {
		return nil, err
	}
	if st, ok := parseProvisioningState(body); ok {
		h.state = mapOperationStatus(st)
	}
	h.lastResp = resp
	return resp, nil
}

func (h *provHandler[T]) Result(ctx context.Context, out *T) error {
	switch h.state {
	case OperationStateFailed, OperationStateCanceled:
		return NewResponseError(h.lastResp)
	}
	return UnmarshalAsJSON(h.lastResp, out)
}

// ----- already-terminal response -----

type syncHandler[T any] struct {
	resp *http.Response
}

func (h *syncHandler[T]) Done() bool {
	return true
}

func (h *syncHandler[T]) Poll(context.Context) (*http.Response, error) {
	return h.resp, nil
}

func (h *syncHandler[T]) Result(_ context.Context, out *T) error {
	return UnmarshalAsJSON(h.resp, out)
}

// ----- shared parsing -----

func hasProvisioningState(resp *http.Response) bool {
	body, err := Payload(resp)
	if err != nil {
		return false
	}
	_, ok := parseProvisioningState(body)
	return ok
}

func parseStatus(body []byte) (string, bool) {
	var monitor struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &monitor); err != nil || monitor.Status == "" {
		return "", false
	}
	return monitor.Status, true
}

func parseProvisioningState(body []byte) (string, bool) {
	var res struct {
		Properties struct {
			ProvisioningState string `json:"provisioningState"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Properties.ProvisioningState == "" {
		return "", false
	}
	return res.Properties.ProvisioningState, true
}

func mapOperationStatus(status string) OperationState {
	switch strings.ToLower(status) {
	case "succeeded":
		return OperationStateSucceeded
	case "failed":
		return OperationStateFailed
	case "canceled", "cancelled":
		return OperationStateCanceled
	default:
		return OperationStateInProgress
	}
}
