package azagents

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// ToolFunc implements a function tool. It receives the JSON-encoded
// arguments from the required tool call and returns the output to hand
// back to the model.
type ToolFunc func(ctx context.Context, arguments []byte) (string, error)

// Toolset registers function tools by name. Pass its Definitions to
// CreateAgent and the set itself to CreateAndProcessRun, which uses it
// to answer requires_action rounds.
type Toolset struct {
	defs  []FunctionToolDefinition
	funcs map[string]ToolFunc
}

// NewToolset creates an empty Toolset.
func NewToolset() *Toolset {
	return &Toolset{funcs: map[string]ToolFunc{}}
}

// AddFunction registers fn under def.Name, replacing any previous
// registration of that name.
func (t *Toolset) AddFunction(def FunctionToolDefinition, fn ToolFunc) {
	if _, exists := t.funcs[def.Name]; !exists {
		t.defs = append(t.defs, def)
	}
	t.funcs[def.Name] = fn
}

// Definitions returns the registered tool declarations.
func (t *Toolset) Definitions() []FunctionToolDefinition {
	return slices.Clone(t.defs)
}

// executeCalls answers each required call. A call naming an unregistered
// function aborts with an error. A registered function returning an
// error becomes an {"error": …} output so the model can correct itself;
// hadErrors reports that at least one call ended that way.
func (t *Toolset) executeCalls(ctx context.Context, calls []RequiredToolCall) (outputs []ToolOutput, hadErrors bool, err error) {
	outputs = make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		fn, ok := t.funcs[call.Name]
		if !ok {
			return nil, false, fmt.Errorf("no function named %q is registered", call.Name)
		}
		out, callErr := fn(ctx, []byte(call.Arguments))
		if callErr != nil {
			hadErrors = true
			msg, _ := json.Marshal(map[string]string{
				"error": fmt.Sprintf("error executing function %q: %v", call.Name, callErr),
			})
			out = string(msg)
		}
		outputs = append(outputs, ToolOutput{ToolCallID: call.ID, Output: out})
	}
	return outputs, hadErrors, nil
}
