// Package agentrunner executes one Agent against the LLM driver: it loads
// the agent row, assembles its tool catalog (cached by agent ID), records an
// AgentExecution row around the call, and finalizes it with token/timing
// data or an error.
package agentrunner

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"conductor/internal/llmdriver"
	"conductor/internal/store"
	"conductor/internal/tooldispatch"
)

const defaultCatalogCacheSize = 128

// defaultCatalogTTL bounds how long a cached catalog is served before
// catalogFor re-queries the store, so an agent's tool links edited
// out-of-process (outside this Runner) become visible without restarting.
const defaultCatalogTTL = time.Minute

// catalogEntry is the cached {tool definitions, handler refs} pair for one
// agent, so a busy workflow doesn't re-query agent_tools/tools on every
// step.
type catalogEntry struct {
	tools    []llmdriver.ToolDefinition
	handlers map[string]string // tool name -> handler reference
}

// cachedCatalog pairs a catalogEntry with the time it was assembled, so
// catalogFor can expire it after ttl elapses.
type cachedCatalog struct {
	entry    catalogEntry
	cachedAt time.Time
}

// Output is the agent runner's result: the driver's final text/stop-reason
// and the token counts to persist on the AgentExecution row.
type Output struct {
	Text             string
	StopReason       string
	PromptTokens     int
	CompletionTokens int
}

// Runner executes agents against a store, an LLM provider and a tool
// dispatcher, caching each agent's assembled tool catalog.
type Runner struct {
	store    store.Store
	provider llmdriver.Provider
	dispatch *tooldispatch.Dispatcher
	catalog  *lru.Cache[int64, cachedCatalog]
	ttl      time.Duration
}

// New builds a Runner with a bounded, TTL-expiring LRU cache over tool
// catalogs.
func New(st store.Store, provider llmdriver.Provider, dispatch *tooldispatch.Dispatcher) *Runner {
	cache, _ := lru.New[int64, cachedCatalog](defaultCatalogCacheSize)
	return &Runner{store: st, provider: provider, dispatch: dispatch, catalog: cache, ttl: defaultCatalogTTL}
}

// Invalidate evicts agentID's cached catalog, for callers that edit an
// agent's tool links and need the next run to see the change immediately
// rather than waiting out the TTL.
func (r *Runner) Invalidate(agentID int64) {
	if r.catalog != nil {
		r.catalog.Remove(agentID)
	}
}

// Run executes agentID against input (a single JSON document), threading a
// workflow execution/step pair for AgentExecution bookkeeping when invoked
// from the orchestrator; both may be nil for standalone invocations.
func (r *Runner) Run(ctx context.Context, agentID int64, input json.RawMessage, workflowExecID, workflowStepID *int64) (*Output, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, store.NewError(store.KindInactive, nil, "agent %q is inactive", agent.Name)
	}

	exec := &store.AgentExecution{
		WorkflowExecID: workflowExecID,
		WorkflowStepID: workflowStepID,
		AgentID:        agentID,
		Status:         store.AgentExecRunning,
		Input:          input,
	}
	exec, err = r.store.CreateAgentExecution(ctx, exec)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, runErr := r.run(ctx, agent, input)

	exec.ElapsedMS = time.Since(start).Milliseconds()
	exec.CompletedAt = ptrTime(time.Now())
	if runErr != nil {
		exec.Status = store.AgentExecFailed
		exec.ErrorMessage = runErr.Error()
		if finalizeErr := r.store.FinalizeAgentExecution(ctx, exec); finalizeErr != nil {
			return nil, finalizeErr
		}
		return nil, runErr
	}

	exec.Status = store.AgentExecCompleted
	exec.PromptTokens = out.PromptTokens
	exec.CompletionTokens = out.CompletionTokens
	outputJSON, _ := json.Marshal(map[string]any{"text": out.Text, "stop_reason": out.StopReason})
	exec.Output = outputJSON
	if err := r.store.FinalizeAgentExecution(ctx, exec); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *Runner) run(ctx context.Context, agent *store.Agent, input json.RawMessage) (*Output, error) {
	catalog, err := r.catalogFor(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	req := llmdriver.Request{
		SystemPrompt: agent.SystemPrompt,
		Model:        agent.Model,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxOutputTokens,
		Tools:        catalog.tools,
	}

	dispatch := func(ctx context.Context, name string, toolInput json.RawMessage) (string, error) {
		return r.dispatch.Dispatch(ctx, name, toolInput, catalog.handlers[name])
	}

	result, err := llmdriver.Invoke(ctx, r.provider, req, inputToUserContent(input), dispatch)
	if err != nil {
		return nil, err
	}

	return &Output{
		Text:             result.Text,
		StopReason:       result.StopReason,
		PromptTokens:     result.InputTokens,
		CompletionTokens: result.OutputTokens,
	}, nil
}

// catalogFor assembles {name, description, inputSchema} for every active
// tool linked to agentID, caching the result by agent ID.
func (r *Runner) catalogFor(ctx context.Context, agentID int64) (catalogEntry, error) {
	if r.catalog != nil {
		if cached, ok := r.catalog.Get(agentID); ok {
			if time.Since(cached.cachedAt) < r.ttl {
				return cached.entry, nil
			}
			r.catalog.Remove(agentID)
		}
	}

	links, err := r.store.ListAgentTools(ctx, agentID)
	if err != nil {
		return catalogEntry{}, err
	}

	entry := catalogEntry{handlers: map[string]string{}}
	for _, link := range links {
		tool, err := r.store.GetTool(ctx, link.ToolID)
		if err != nil {
			return catalogEntry{}, err
		}
		if !tool.Active {
			continue
		}
		entry.tools = append(entry.tools, llmdriver.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
		entry.handlers[tool.Name] = tool.Handler
	}

	if r.catalog != nil {
		r.catalog.Add(agentID, cachedCatalog{entry: entry, cachedAt: time.Now()})
	}
	return entry, nil
}

// inputToUserContent flattens the agent's input document into the single
// user-message text the driver's first turn carries: strings pass through
// verbatim, everything else is stringified JSON.
func inputToUserContent(input json.RawMessage) string {
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s
	}
	return string(input)
}

func ptrTime(t time.Time) *time.Time { return &t }
