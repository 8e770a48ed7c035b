package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/internal/util"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/model"
	"github.com/hupe1980/classmesh/tool"
)

// DefaultInstruction is the system prompt of a ModelComposer.
const DefaultInstruction = "You are {{.Name}}, a {{.Role}} in a simulated school. Reply briefly in plain text. " +
	"Use a tool only when you need the current time, the timetable or your recent memory."

// DefaultPromptTemplate renders the user turn of a ModelComposer.
const DefaultPromptTemplate = `role: {{.Name}} ({{.Role}})
group: {{default "none" .Group}}
time: {{.Time}}
persona:
{{.Persona}}
task: {{.Instruction}}
input: {{.Incoming}}
context:
{{default "none" .Context}}`

// ModelComposerOptions configures a ModelComposer.
type ModelComposerOptions struct {
	// Instruction is the system prompt template.
	Instruction string
	// PromptTemplate renders the user message.
	PromptTemplate string
	// Tools is the catalogue; each agent only sees its allowlist.
	Tools *tool.Set
	// Env backs tool calls.
	Env tool.Environment
	// Limiter caps model calls per run; nil is unlimited.
	Limiter *core.ModelLimiter
	// MaxToolRounds bounds consecutive tool calls in one composition.
	MaxToolRounds int
	Logger        logging.Logger
}

// ModelComposer writes message text with a language model. Tool calls are
// restricted to the agent's allowlist; any other tool is a DecisionError.
type ModelComposer struct {
	llm  model.Model
	opts ModelComposerOptions
}

// NewModelComposer creates a composer around m.
func NewModelComposer(m model.Model, optFns ...func(o *ModelComposerOptions)) *ModelComposer {
	opts := ModelComposerOptions{
		Instruction:    DefaultInstruction,
		PromptTemplate: DefaultPromptTemplate,
		Tools:          tool.Defaults(),
		MaxToolRounds:  2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &ModelComposer{llm: m, opts: opts}
}

// Compose implements Composer.
func (c *ModelComposer) Compose(ctx context.Context, req ComposeRequest) (string, error) {
	p := req.Profile
	state := map[string]any{
		"Name":        p.Name,
		"Role":        string(p.Role),
		"Group":       p.Group,
		"Time":        tool.FormatTime(req.Time),
		"Persona":     personaBlock(p.Persona),
		"Instruction": req.Instruction,
		"Incoming":    req.Incoming,
		"Context":     req.Context,
	}
	if state["Name"] == "" {
		state["Name"] = p.ID
	}
	system, err := util.RenderTemplate(c.opts.Instruction, state)
	if err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}
	prompt, err := util.RenderTemplate(c.opts.PromptTemplate, state)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	modelReq := model.Request{
		Instructions: system,
		Messages:     []model.Message{{Role: model.RoleUser, Content: prompt}},
		Tools:        c.opts.Tools.Definitions(p.Decision.ToolAllowlist),
	}
	for round := 0; ; round++ {
		resp, err := c.generate(ctx, p.ID, modelReq)
		if err != nil {
			return "", err
		}
		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			return strings.TrimSpace(resp.Message.Content), nil
		}
		if round >= c.opts.MaxToolRounds {
			return "", &core.DecisionError{AgentID: p.ID, Strategy: "llm", Err: fmt.Errorf("exceeded %d tool rounds", c.opts.MaxToolRounds)}
		}
		modelReq.Messages = append(modelReq.Messages, resp.Message)
		for _, call := range calls {
			result, err := c.runTool(ctx, p, call)
			if err != nil {
				return "", err
			}
			modelReq.Messages = append(modelReq.Messages, model.Message{Role: model.RoleTool, ToolCallID: call.ID, Content: result})
		}
	}
}

func (c *ModelComposer) generate(ctx context.Context, agentID string, req model.Request) (model.Response, error) {
	if !c.opts.Limiter.TryAcquire() {
		return model.Response{}, ErrBudgetExhausted
	}
	start := time.Now()
	resp, err := model.Collect(ctx, c.llm, req)
	info := c.llm.Info()
	if err != nil {
		c.opts.Logger.Warn("llm.call.failed", "agent_id", agentID, "model", info.Name, "duration", time.Since(start), "error", err.Error())
		return model.Response{}, err
	}
	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	c.opts.Logger.Debug("llm.call.completed", "agent_id", agentID, "model", info.Name, "token_count", tokens, "duration", time.Since(start))
	return resp, nil
}

// runTool executes one allowlisted tool call. Tool failures are reported
// back to the model as text; a tool outside the allowlist aborts.
func (c *ModelComposer) runTool(ctx context.Context, p core.AgentProfile, call model.ToolCall) (string, error) {
	name := call.Function.Name
	t, ok := c.opts.Tools.Get(name)
	if !ok || !p.Decision.AllowsTool(name) {
		c.opts.Logger.Warn("tool.call.rejected", "agent_id", p.ID, "tool_name", name)
		return "", &core.DecisionError{AgentID: p.ID, Strategy: "llm", Err: fmt.Errorf("tool %q is not allowed", name)}
	}
	start := time.Now()
	args, err := call.Function.DecodeArguments()
	if err != nil {
		return "tool error: " + err.Error(), nil
	}
	out, err := t.Call(tool.NewContext(ctx, p.ID, p.Group, call.ID, c.opts.Env, c.opts.Logger), args)
	if err != nil {
		c.opts.Logger.Warn("tool.call.failed", "agent_id", p.ID, "tool_name", name, "duration", time.Since(start), "error", err.Error())
		return "tool error: " + err.Error(), nil
	}
	c.opts.Logger.Debug("tool.call.completed", "agent_id", p.ID, "tool_name", name, "duration", time.Since(start))
	switch v := out.(type) {
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v), nil
		}
		return string(b), nil
	}
}

func personaBlock(p core.Persona) string {
	var lines []string
	if len(p.Traits) > 0 {
		lines = append(lines, "traits: "+strings.Join(p.Traits, ", "))
	}
	if p.Tone != "" {
		lines = append(lines, "tone: "+p.Tone)
	}
	if len(p.Interests) > 0 {
		lines = append(lines, "interests: "+strings.Join(p.Interests, ", "))
	}
	if p.Bio != "" {
		lines = append(lines, "bio: "+p.Bio)
	}
	lines = append(lines, fmt.Sprintf("engagement: %.2f, confidence: %.2f, collaboration: %.2f", p.Engagement, p.Confidence, p.Collaboration))
	return strings.Join(lines, "\n")
}

// NewLLM returns the language model strategy for an agent: its role
// behaviour with text written by composer.
func NewLLM(b Behavior, env Env, composer Composer) *Rules {
	return NewRules(b, env, func(o *RulesOptions) { o.Composer = composer })
}
