package azagents

import "time"

// RunStatus is the lifecycle state of a thread run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether the run has finished and will not change
// state again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	}
	return false
}

// MessageRole identifies the author of a thread message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ListSortOrder orders listings by creation time.
type ListSortOrder string

const (
	ListSortOrderAscending  ListSortOrder = "asc"
	ListSortOrderDescending ListSortOrder = "desc"
)

// FunctionToolDefinition declares a callable function to the agent.
// Parameters holds a JSON schema describing the arguments.
type FunctionToolDefinition struct {
	Name        string
	Description string
	Parameters  any
}

// Agent is a configured assistant: a model plus instructions and tools.
type Agent struct {
	ID           string
	Model        string
	Name         string
	Instructions string
	Tools        []FunctionToolDefinition
	CreatedAt    *time.Time
}

// AgentThread is a conversation the agent operates on.
type AgentThread struct {
	ID        string
	Metadata  map[string]string
	CreatedAt *time.Time
}

// MessageContent is one content block of a thread message. Only text
// blocks carry a value.
type MessageContent struct {
	Type string
	Text string
}

// ThreadMessage is one entry in a thread's conversation. RunID is set
// on messages an agent run produced.
type ThreadMessage struct {
	ID        string
	ThreadID  string
	Role      MessageRole
	Content   []MessageContent
	RunID     string
	CreatedAt *time.Time
}

// RunError describes why a run failed.
type RunError struct {
	Code    string
	Message string
}

// RequiredToolCall is one function invocation the service is waiting
// on. Arguments is the JSON-encoded argument object.
type RequiredToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// RequiredAction is what a run in the requires_action state needs
// before it can continue.
type RequiredAction struct {
	Type      string
	ToolCalls []RequiredToolCall
}

// ToolOutput answers one required tool call.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// ThreadRun is one execution of an agent against a thread.
type ThreadRun struct {
	ID             string
	ThreadID       string
	AgentID        string
	Status         RunStatus
	Model          string
	LastError      *RunError
	RequiredAction *RequiredAction
	CreatedAt      *time.Time
	CompletedAt    *time.Time
}

const actionSubmitToolOutputs = "submit_tool_outputs"

type functionDefinitionJSON struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type toolDefinitionJSON struct {
	Type     string                 `json:"type"`
	Function functionDefinitionJSON `json:"function"`
}

func toolDefinitionsJSON(defs []FunctionToolDefinition) []toolDefinitionJSON {
	if len(defs) == 0 {
		return nil
	}
	wire := make([]toolDefinitionJSON, len(defs))
	for i, d := range defs {
		wire[i] = toolDefinitionJSON{
			Type: "function",
			Function: functionDefinitionJSON{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return wire
}

type agentJSON struct {
	ID           string               `json:"id"`
	CreatedAt    int64                `json:"created_at"`
	Model        string               `json:"model"`
	Name         string               `json:"name"`
	Instructions string               `json:"instructions"`
	Tools        []toolDefinitionJSON `json:"tools"`
}

func (w agentJSON) toAgent() Agent {
	a := Agent{
		ID:           w.ID,
		Model:        w.Model,
		Name:         w.Name,
		Instructions: w.Instructions,
		CreatedAt:    unixTime(w.CreatedAt),
	}
	for _, t := range w.Tools {
		a.Tools = append(a.Tools, FunctionToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return a
}

type threadJSON struct {
	ID        string            `json:"id"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}

func (w threadJSON) toThread() AgentThread {
	return AgentThread{
		ID:        w.ID,
		Metadata:  w.Metadata,
		CreatedAt: unixTime(w.CreatedAt),
	}
}

type messageContentJSON struct {
	Type string `json:"type"`
	Text struct {
		Value string `json:"value"`
	} `json:"text"`
}

type messageJSON struct {
	ID        string               `json:"id"`
	CreatedAt int64                `json:"created_at"`
	ThreadID  string               `json:"thread_id"`
	Role      string               `json:"role"`
	Content   []messageContentJSON `json:"content"`
	RunID     string               `json:"run_id"`
}

func (w messageJSON) toMessage() ThreadMessage {
	m := ThreadMessage{
		ID:        w.ID,
		ThreadID:  w.ThreadID,
		Role:      MessageRole(w.Role),
		RunID:     w.RunID,
		CreatedAt: unixTime(w.CreatedAt),
	}
	for _, content := range w.Content {
		m.Content = append(m.Content, MessageContent{Type: content.Type, Text: content.Text.Value})
	}
	return m
}

type toolCallJSON struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type requiredActionJSON struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []toolCallJSON `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

type runErrorJSON struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type runJSON struct {
	ID             string              `json:"id"`
	CreatedAt      int64               `json:"created_at"`
	CompletedAt    int64               `json:"completed_at"`
	ThreadID       string              `json:"thread_id"`
	AssistantID    string              `json:"assistant_id"`
	Status         string              `json:"status"`
	Model          string              `json:"model"`
	LastError      *runErrorJSON       `json:"last_error"`
	RequiredAction *requiredActionJSON `json:"required_action"`
}

func (w runJSON) toRun() ThreadRun {
	r := ThreadRun{
		ID:          w.ID,
		ThreadID:    w.ThreadID,
		AgentID:     w.AssistantID,
		Status:      RunStatus(w.Status),
		Model:       w.Model,
		CreatedAt:   unixTime(w.CreatedAt),
		CompletedAt: unixTime(w.CompletedAt),
	}
	if w.LastError != nil {
		r.LastError = &RunError{Code: w.LastError.Code, Message: w.LastError.Message}
	}
	if w.RequiredAction != nil {
		ra := &RequiredAction{Type: w.RequiredAction.Type}
		for _, call := range w.RequiredAction.SubmitToolOutputs.ToolCalls {
			ra.ToolCalls = append(ra.ToolCalls, RequiredToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
		r.RequiredAction = ra
	}
	return r
}

type listMessagesJSON struct {
	Data    []messageJSON `json:"data"`
	FirstID string        `json:"first_id"`
	LastID  string        `json:"last_id"`
	HasMore bool          `json:"has_more"`
}

type createAgentRequest struct {
	Model        string               `json:"model"`
	Name         string               `json:"name,omitempty"`
	Instructions string               `json:"instructions,omitempty"`
	Tools        []toolDefinitionJSON `json:"tools,omitempty"`
}

type createThreadRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

type createMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createRunRequest struct {
	AssistantID string `json:"assistant_id"`
}

type toolOutputJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type submitToolOutputsRequest struct {
	ToolOutputs []toolOutputJSON `json:"tool_outputs"`
}

func unixTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
