package azagents

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const (
	defaultAPIVersion = "2025-05-01"
	tokenScope        = "https://ai.azure.com/.default"

	// maxToolErrorRetries caps how many requires_action rounds that
	// produced error outputs CreateAndProcessRun will feed back to the
	// model before cancelling the run.
	maxToolErrorRetries = 10
)

// ClientOptions configures Client.
type ClientOptions struct {
	azcore.ClientOptions
}

// Client talks to an Azure AI Agents project endpoint.
type Client struct {
	endpoint   string
	apiVersion string
	pl         azcore.Pipeline
}

// NewClient creates a Client authenticating with a Microsoft Entra ID
// credential.
func NewClient(endpoint string, credential azcore.TokenCredential, options *ClientOptions) (*Client, error) {
	if credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	if options == nil {
		options = &ClientOptions{}
	}
	apiVersion := defaultAPIVersion
	if options.APIVersion != "" {
		apiVersion = options.APIVersion
	}
	auth := azcore.NewBearerTokenPolicy(credential, []string{tokenScope}, nil)
	pl := azcore.NewPipeline(moduleName, moduleVersion, azcore.PipelineOptions{
		PerRetry:           []azcore.Policy{auth},
		AllowedQueryParams: []string{"order", "limit", "after"},
	}, &options.ClientOptions)
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiVersion: apiVersion,
		pl:         pl,
	}, nil
}

func (c *Client) apiURL(path string) string {
	return c.endpoint + path + "?api-version=" + url.QueryEscape(c.apiVersion)
}

func threadPath(threadID string) string {
	return "/threads/" + url.PathEscape(threadID)
}

func runPath(threadID, runID string) string {
	return threadPath(threadID) + "/runs/" + url.PathEscape(runID)
}

// doJSON sends method+u with an optional JSON body and decodes a 200
// response into out. A nil out drains the response.
func (c *Client) doJSON(ctx context.Context, method, u string, body, out any) error {
	req, err := azcore.NewRequest(ctx, method, u)
	if err != nil {
		return err
	}
	if body != nil {
		if err := req.MarshalAsJSON(body); err != nil {
			return err
		}
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return azcore.NewResponseError(resp)
	}
	if out == nil {
		azcore.Drain(resp)
		return nil
	}
	return azcore.UnmarshalAsJSON(resp, out)
}

// CreateAgentOptions configures CreateAgent.
type CreateAgentOptions struct {
	Name         *string
	Instructions *string

	// Tools declares the function tools the agent may request. Use
	// Toolset.Definitions to declare a registered set.
	Tools []FunctionToolDefinition
}

// CreateAgent creates an agent on the given model.
func (c *Client) CreateAgent(ctx context.Context, model string, options *CreateAgentOptions) (Agent, error) {
	if options == nil {
		options = &CreateAgentOptions{}
	}
	body := createAgentRequest{
		Model: model,
		Tools: toolDefinitionsJSON(options.Tools),
	}
	if options.Name != nil {
		body.Name = *options.Name
	}
	if options.Instructions != nil {
		body.Instructions = *options.Instructions
	}
	var wire agentJSON
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL("/assistants"), body, &wire); err != nil {
		return Agent{}, err
	}
	return wire.toAgent(), nil
}

// GetAgentOptions configures GetAgent.
type GetAgentOptions struct{}

// GetAgent retrieves an agent. A missing ID yields
// azcore.ErrResourceNotFound.
func (c *Client) GetAgent(ctx context.Context, agentID string, options *GetAgentOptions) (Agent, error) {
	var wire agentJSON
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("/assistants/"+url.PathEscape(agentID)), nil, &wire); err != nil {
		return Agent{}, err
	}
	return wire.toAgent(), nil
}

// DeleteAgentOptions configures DeleteAgent.
type DeleteAgentOptions struct{}

// DeleteAgent removes an agent.
func (c *Client) DeleteAgent(ctx context.Context, agentID string, options *DeleteAgentOptions) error {
	return c.doJSON(ctx, http.MethodDelete, c.apiURL("/assistants/"+url.PathEscape(agentID)), nil, nil)
}

// CreateThreadOptions configures CreateThread.
type CreateThreadOptions struct {
	Metadata map[string]string
}

// CreateThread starts an empty conversation thread.
func (c *Client) CreateThread(ctx context.Context, options *CreateThreadOptions) (AgentThread, error) {
	if options == nil {
		options = &CreateThreadOptions{}
	}
	var wire threadJSON
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL("/threads"), createThreadRequest{Metadata: options.Metadata}, &wire); err != nil {
		return AgentThread{}, err
	}
	return wire.toThread(), nil
}

// GetThreadOptions configures GetThread.
type GetThreadOptions struct{}

// GetThread retrieves a thread.
func (c *Client) GetThread(ctx context.Context, threadID string, options *GetThreadOptions) (AgentThread, error) {
	var wire threadJSON
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL(threadPath(threadID)), nil, &wire); err != nil {
		return AgentThread{}, err
	}
	return wire.toThread(), nil
}

// DeleteThreadOptions configures DeleteThread.
type DeleteThreadOptions struct{}

// DeleteThread removes a thread and its messages.
func (c *Client) DeleteThread(ctx context.Context, threadID string, options *DeleteThreadOptions) error {
	return c.doJSON(ctx, http.MethodDelete, c.apiURL(threadPath(threadID)), nil, nil)
}

// CreateMessageOptions configures CreateMessage.
type CreateMessageOptions struct{}

// CreateMessage appends a text message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID string, role MessageRole, content string, options *CreateMessageOptions) (ThreadMessage, error) {
	body := createMessageRequest{Role: string(role), Content: content}
	var wire messageJSON
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL(threadPath(threadID)+"/messages"), body, &wire); err != nil {
		return ThreadMessage{}, err
	}
	return wire.toMessage(), nil
}

// ListMessagesOptions configures NewListMessagesPager.
type ListMessagesOptions struct {
	// Order sorts by creation time, newest first by default.
	Order *ListSortOrder

	// Limit caps the messages per page. The service default is 20.
	Limit *int32
}

// ListMessagesPageResponse is one page of a thread's messages.
type ListMessagesPageResponse struct {
	Messages []ThreadMessage

	lastID  string
	hasMore bool
}

// NewListMessagesPager pages over a thread's messages with cursor
// continuation.
func (c *Client) NewListMessagesPager(threadID string, options *ListMessagesOptions) *azcore.Pager[ListMessagesPageResponse] {
	if options == nil {
		options = &ListMessagesOptions{}
	}
	firstURL := c.apiURL(threadPath(threadID) + "/messages")
	if options.Order != nil {
		firstURL += "&order=" + url.QueryEscape(string(*options.Order))
	}
	if options.Limit != nil {
		firstURL += "&limit=" + strconv.FormatInt(int64(*options.Limit), 10)
	}

	return azcore.NewPager(azcore.PagingHandler[ListMessagesPageResponse]{
		More: func(page ListMessagesPageResponse) bool {
			return page.hasMore
		},
		Fetcher: func(ctx context.Context, current *ListMessagesPageResponse) (ListMessagesPageResponse, error) {
			pageURL := firstURL
			if current != nil {
				pageURL += "&after=" + url.QueryEscape(current.lastID)
			}
			var wire listMessagesJSON
			if err := c.doJSON(ctx, http.MethodGet, pageURL, nil, &wire); err != nil {
				return ListMessagesPageResponse{}, err
			}
			page := ListMessagesPageResponse{
				Messages: make([]ThreadMessage, len(wire.Data)),
				lastID:   wire.LastID,
				hasMore:  wire.HasMore,
			}
			for i, m := range wire.Data {
				page.Messages[i] = m.toMessage()
			}
			return page, nil
		},
	})
}

// CreateRunOptions configures CreateRun.
type CreateRunOptions struct{}

// CreateRun starts an agent run against a thread. The run executes
// asynchronously; poll it with GetRun or use CreateAndProcessRun.
func (c *Client) CreateRun(ctx context.Context, threadID, agentID string, options *CreateRunOptions) (ThreadRun, error) {
	body := createRunRequest{AssistantID: agentID}
	var wire runJSON
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL(threadPath(threadID)+"/runs"), body, &wire); err != nil {
		return ThreadRun{}, err
	}
	return wire.toRun(), nil
}

// GetRunOptions configures GetRun.
type GetRunOptions struct{}

// GetRun retrieves a run's current state.
func (c *Client) GetRun(ctx context.Context, threadID, runID string, options *GetRunOptions) (ThreadRun, error) {
	var wire runJSON
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL(runPath(threadID, runID)), nil, &wire); err != nil {
		return ThreadRun{}, err
	}
	return wire.toRun(), nil
}

// CancelRunOptions configures CancelRun.
type CancelRunOptions struct{}

// CancelRun stops a run that has not reached a terminal state.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string, options *CancelRunOptions) (ThreadRun, error) {
	var wire runJSON
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL(runPath(threadID, runID)+"/cancel"), nil, &wire); err != nil {
		return ThreadRun{}, err
	}
	return wire.toRun(), nil
}

// SubmitToolOutputsOptions configures SubmitToolOutputs.
type SubmitToolOutputsOptions struct{}

// SubmitToolOutputs answers a run in the requires_action state so it
// can continue.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput, options *SubmitToolOutputsOptions) (ThreadRun, error) {
	body := submitToolOutputsRequest{ToolOutputs: make([]toolOutputJSON, len(outputs))}
	for i, o := range outputs {
		body.ToolOutputs[i] = toolOutputJSON{ToolCallID: o.ToolCallID, Output: o.Output}
	}
	var wire runJSON
	if err := c.doJSON(ctx, http.MethodPost, c.apiURL(runPath(threadID, runID)+"/submit_tool_outputs"), body, &wire); err != nil {
		return ThreadRun{}, err
	}
	return wire.toRun(), nil
}

// CreateAndProcessRunOptions configures CreateAndProcessRun.
type CreateAndProcessRunOptions struct {
	// Interval is the delay between status polls. Defaults to one
	// second.
	Interval time.Duration

	// Toolset answers requires_action rounds. A run that requires tools
	// when no set is given, or that requests a function the set does not
	// register, is cancelled.
	Toolset *Toolset
}

// CreateAndProcessRun starts a run and drives it to a terminal state,
// polling its status and answering tool calls from options.Toolset
// along the way. It returns the terminal run; inspect Status to tell
// completion from failure or cancellation.
func (c *Client) CreateAndProcessRun(ctx context.Context, threadID, agentID string, options *CreateAndProcessRunOptions) (ThreadRun, error) {
	if options == nil {
		options = &CreateAndProcessRunOptions{}
	}
	interval := options.Interval
	if interval <= 0 {
		interval = time.Second
	}

	run, err := c.CreateRun(ctx, threadID, agentID, nil)
	if err != nil {
		return ThreadRun{}, err
	}

	toolErrorRounds := 0
	for !run.Status.Terminal() {
		if run.Status == RunStatusRequiresAction {
			action := run.RequiredAction
			if options.Toolset == nil || action == nil || action.Type != actionSubmitToolOutputs || len(action.ToolCalls) == 0 {
				return c.CancelRun(ctx, threadID, run.ID, nil)
			}
			outputs, hadErrors, err := options.Toolset.executeCalls(ctx, action.ToolCalls)
			if err != nil {
				return c.CancelRun(ctx, threadID, run.ID, nil)
			}
			if hadErrors {
				toolErrorRounds++
				if toolErrorRounds > maxToolErrorRetries {
					return c.CancelRun(ctx, threadID, run.ID, nil)
				}
			}
			run, err = c.SubmitToolOutputs(ctx, threadID, run.ID, outputs, nil)
			if err != nil {
				return ThreadRun{}, err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-time.After(interval):
		}
		run, err = c.GetRun(ctx, threadID, run.ID, nil)
		if err != nil {
			return ThreadRun{}, err
		}
	}
	return run, nil
}
