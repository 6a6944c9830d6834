package azagents

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fakeagents "github.com/thand-io/azure-sdk/internal/fake/agents"
	"github.com/thand-io/azure-sdk/sdk/azcore"
)

type staticTokenCredential struct {
	mu     sync.Mutex
	scopes []string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes = opts.Scopes
	return azcore.AccessToken{Token: "agents-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func newTestProject(t *testing.T) (*Client, *fakeagents.Server, *staticTokenCredential) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := fakeagents.NewServer()
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	cred := &staticTokenCredential{}
	client, err := NewClient(srv.URL, cred, nil)
	require.NoError(t, err)
	return client, fake, cred
}

func weatherToolDefinition() FunctionToolDefinition {
	return FunctionToolDefinition{
		Name:        "get_weather",
		Description: "Current weather for a location.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
			},
		},
	}
}

func TestCreateGetDeleteAgent(t *testing.T) {
	client, _, cred := newTestProject(t)
	ctx := context.Background()

	name := "weather-bot"
	instructions := "Answer questions about the weather."
	agent, err := client.CreateAgent(ctx, "gpt-4o", &CreateAgentOptions{
		Name:         &name,
		Instructions: &instructions,
		Tools:        []FunctionToolDefinition{weatherToolDefinition()},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(agent.ID, "asst_"))
	assert.Equal(t, "gpt-4o", agent.Model)
	assert.Equal(t, "weather-bot", agent.Name)
	require.NotNil(t, agent.CreatedAt)
	require.Len(t, agent.Tools, 1)
	assert.Equal(t, "get_weather", agent.Tools[0].Name)

	got, err := client.GetAgent(ctx, agent.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.ID)
	assert.Equal(t, instructions, got.Instructions)

	require.NoError(t, client.DeleteAgent(ctx, agent.ID, nil))
	_, err = client.GetAgent(ctx, agent.ID, nil)
	assert.ErrorIs(t, err, azcore.ErrResourceNotFound)

	assert.Equal(t, []string{"https://ai.azure.com/.default"}, cred.scopes)
}

func TestThreadLifecycle(t *testing.T) {
	client, _, _ := newTestProject(t)
	ctx := context.Background()

	thread, err := client.CreateThread(ctx, &CreateThreadOptions{
		Metadata: map[string]string{"ticket": "INC-4821"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(thread.ID, "thread_"))
	require.NotNil(t, thread.CreatedAt)

	got, err := client.GetThread(ctx, thread.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, thread.ID, got.ID)
	assert.Equal(t, "INC-4821", got.Metadata["ticket"])

	require.NoError(t, client.DeleteThread(ctx, thread.ID, nil))
	_, err = client.GetThread(ctx, thread.ID, nil)
	assert.ErrorIs(t, err, azcore.ErrResourceNotFound)
}

func TestCreateMessage(t *testing.T) {
	client, _, _ := newTestProject(t)
	ctx := context.Background()

	thread, err := client.CreateThread(ctx, nil)
	require.NoError(t, err)

	msg, err := client.CreateMessage(ctx, thread.ID, MessageRoleUser, "What's the weather in Seattle?", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg.ID, "msg_"))
	assert.Equal(t, thread.ID, msg.ThreadID)
	assert.Equal(t, MessageRoleUser, msg.Role)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Equal(t, "What's the weather in Seattle?", msg.Content[0].Text)
}

func TestListMessagesPaging(t *testing.T) {
	client, _, _ := newTestProject(t)
	ctx := context.Background()

	thread, err := client.CreateThread(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := client.CreateMessage(ctx, thread.ID, MessageRoleUser, fmt.Sprintf("note %d", i), nil)
		require.NoError(t, err)
	}

	order := ListSortOrderAscending
	limit := int32(2)
	pager := client.NewListMessagesPager(thread.ID, &ListMessagesOptions{Order: &order, Limit: &limit})
	var texts []string
	pages := 0
	for pager.More() {
		page, err := pager.NextPage(ctx)
		require.NoError(t, err)
		pages++
		for _, m := range page.Messages {
			require.Len(t, m.Content, 1)
			texts = append(texts, m.Content[0].Text)
		}
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"note 0", "note 1", "note 2", "note 3", "note 4"}, texts)
}

func TestListMessagesDefaultsToNewestFirst(t *testing.T) {
	client, _, _ := newTestProject(t)
	ctx := context.Background()

	thread, err := client.CreateThread(ctx, nil)
	require.NoError(t, err)
	_, err = client.CreateMessage(ctx, thread.ID, MessageRoleUser, "first", nil)
	require.NoError(t, err)
	_, err = client.CreateMessage(ctx, thread.ID, MessageRoleUser, "second", nil)
	require.NoError(t, err)

	pager := client.NewListMessagesPager(thread.ID, nil)
	page, err := pager.NextPage(ctx)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "second", page.Messages[0].Content[0].Text)
	assert.Equal(t, "first", page.Messages[1].Content[0].Text)
	assert.False(t, pager.More())
}

func newRunFixture(t *testing.T, client *Client) (agentID, threadID string) {
	t.Helper()
	ctx := context.Background()
	agent, err := client.CreateAgent(ctx, "gpt-4o", nil)
	require.NoError(t, err)
	thread, err := client.CreateThread(ctx, nil)
	require.NoError(t, err)
	return agent.ID, thread.ID
}

func TestRunLifecycle(t *testing.T) {
	client, fake, _ := newTestProject(t)
	ctx := context.Background()
	fake.ScriptRun("queued", "in_progress", "completed")
	agentID, threadID := newRunFixture(t, client)

	run, err := client.CreateRun(ctx, threadID, agentID, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(run.ID, "run_"))
	assert.Equal(t, RunStatusQueued, run.Status)
	assert.Equal(t, agentID, run.AgentID)
	assert.Equal(t, threadID, run.ThreadID)
	assert.Equal(t, "gpt-4o", run.Model)
	assert.Nil(t, run.CompletedAt)
	assert.False(t, run.Status.Terminal())

	run, err = client.GetRun(ctx, threadID, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusInProgress, run.Status)

	run, err = client.GetRun(ctx, threadID, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.True(t, run.Status.Terminal())
	assert.NotNil(t, run.CompletedAt)
}

func TestRunFailureCarriesLastError(t *testing.T) {
	client, fake, _ := newTestProject(t)
	ctx := context.Background()
	fake.ScriptRun("queued", "failed")
	agentID, threadID := newRunFixture(t, client)

	run, err := client.CreateRun(ctx, threadID, agentID, nil)
	require.NoError(t, err)
	run, err = client.GetRun(ctx, threadID, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "server_error", run.LastError.Code)
}

func TestCancelRun(t *testing.T) {
	client, fake, _ := newTestProject(t)
	ctx := context.Background()
	fake.ScriptRun("queued", "requires_action", "completed")
	agentID, threadID := newRunFixture(t, client)

	run, err := client.CreateRun(ctx, threadID, agentID, nil)
	require.NoError(t, err)
	run, err = client.GetRun(ctx, threadID, run.ID, nil)
	require.NoError(t, err)
	require.Equal(t, RunStatusRequiresAction, run.Status)

	cancelled, err := client.CancelRun(ctx, threadID, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	_, err = client.CancelRun(ctx, threadID, run.ID, nil)
	var respErr *azcore.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "BadRequest", respErr.ErrorCode)
}

func TestCreateAndProcessRunCompletes(t *testing.T) {
	client, _, _ := newTestProject(t)
	ctx := context.Background()
	agentID, threadID := newRunFixture(t, client)
	_, err := client.CreateMessage(ctx, threadID, MessageRoleUser, "Summarize the thread.", nil)
	require.NoError(t, err)

	run, err := client.CreateAndProcessRun(ctx, threadID, agentID, &CreateAndProcessRunOptions{
		Interval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)

	// the completed run appended the assistant's reply to the thread
	pager := client.NewListMessagesPager(threadID, nil)
	page, err := pager.NextPage(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, page.Messages)
	reply := page.Messages[0]
	assert.Equal(t, MessageRoleAssistant, reply.Role)
	assert.Equal(t, "All done.", reply.Content[0].Text)
	assert.Equal(t, run.ID, reply.RunID)
}

func TestCreateAndProcessRunExecutesTools(t *testing.T) {
	client, fake, _ := newTestProject(t)
	ctx := context.Background()
	fake.ScriptRun("queued", "requires_action", "completed")

	toolset := NewToolset()
	var gotArgs string
	toolset.AddFunction(weatherToolDefinition(), func(ctx context.Context, arguments []byte) (string, error) {
		gotArgs = string(arguments)
		return "72F and sunny", nil
	})

	agent, err := client.CreateAgent(ctx, "gpt-4o", &CreateAgentOptions{Tools: toolset.Definitions()})
	require.NoError(t, err)
	thread, err := client.CreateThread(ctx, nil)
	require.NoError(t, err)

	run, err := client.CreateAndProcessRun(ctx, thread.ID, agent.ID, &CreateAndProcessRunOptions{
		Interval: time.Millisecond,
		Toolset:  toolset,
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.JSONEq(t, `{"location":"Seattle"}`, gotArgs)

	outputs := fake.SubmittedToolOutputs()
	require.Len(t, outputs, 1)
	assert.NotEmpty(t, outputs[0].ToolCallID)
	assert.Equal(t, "72F and sunny", outputs[0].Output)
}

func TestCreateAndProcessRunCancelsUnknownTool(t *testing.T) {
	client, fake, _ := newTestProject(t)
	ctx := context.Background()
	fake.ScriptRun("queued", "requires_action", "completed")
	agentID, threadID := newRunFixture(t, client)

	toolset := NewToolset()
	toolset.AddFunction(FunctionToolDefinition{Name: "lookup_order"}, func(ctx context.Context, arguments []byte) (string, error) {
		return "", nil
	})

	run, err := client.CreateAndProcessRun(ctx, threadID, agentID, &CreateAndProcessRunOptions{
		Interval: time.Millisecond,
		Toolset:  toolset,
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, run.Status)
	assert.Empty(t, fake.SubmittedToolOutputs())
}

func TestCreateAndProcessRunCancelsWithoutToolset(t *testing.T) {
	client, fake, _ := newTestProject(t)
	ctx := context.Background()
	fake.ScriptRun("queued", "requires_action", "completed")
	agentID, threadID := newRunFixture(t, client)

	run, err := client.CreateAndProcessRun(ctx, threadID, agentID, &CreateAndProcessRunOptions{
		Interval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, run.Status)
}

func TestCreateAndProcessRunFeedsToolErrorsBack(t *testing.T) {
	client, fake, _ := newTestProject(t)
	ctx := context.Background()
	fake.ScriptRun("queued", "requires_action", "completed")
	agentID, threadID := newRunFixture(t, client)

	toolset := NewToolset()
	toolset.AddFunction(weatherToolDefinition(), func(ctx context.Context, arguments []byte) (string, error) {
		return "", errors.New("upstream unavailable")
	})

	run, err := client.CreateAndProcessRun(ctx, threadID, agentID, &CreateAndProcessRunOptions{
		Interval: time.Millisecond,
		Toolset:  toolset,
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)

	// the failure travels back to the model as the call's output
	outputs := fake.SubmittedToolOutputs()
	require.Len(t, outputs, 1)
	assert.Contains(t, outputs[0].Output, `"error"`)
	assert.Contains(t, outputs[0].Output, "upstream unavailable")
}
