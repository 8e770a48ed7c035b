// Package tool implements the function calling subsystem that lets LLM backed
// agents query the simulation (time, timetable, recent memory) with schema
// validated arguments and consistent error handling.
package tool

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/internal/util"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/model"
)

// Tool defines a capability an agent can invoke during a decision.
//
// Tool implementations should:
//   - Provide clear, descriptive snake_case names
//   - Define a JSON schema for parameters
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description is shown to the model to explain when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input.
	Parameters() map[string]any

	// Call executes the tool with already decoded arguments.
	Call(tc *Context, args map[string]any) (any, error)
}

// Environment is the read-only view of the simulation tools may query.
type Environment interface {
	SimTime() core.SimTime
	Timetable(group string) []core.TimetableEntry
	RecentMemory(agentID string, limit int) []string
}

// Context is handed to a tool for one invocation.
type Context struct {
	ctx     context.Context
	agentID string
	group   string
	callID  string
	env     Environment
	logger  logging.Logger
}

// NewContext creates a tool context for the calling agent.
func NewContext(ctx context.Context, agentID, group, callID string, env Environment, logger logging.Logger) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{ctx: ctx, agentID: agentID, group: group, callID: callID, env: env, logger: logging.OrNoOp(logger)}
}

// Context returns the decision context; tools should honour its deadline.
func (c *Context) Context() context.Context { return c.ctx }

// AgentID returns the calling agent.
func (c *Context) AgentID() string { return c.agentID }

// Group returns the calling agent's group.
func (c *Context) Group() string { return c.group }

// FunctionCallID correlates the model's tool call with its result.
func (c *Context) FunctionCallID() string { return c.callID }

// Env returns the simulation view.
func (c *Context) Env() Environment { return c.env }

// Logger returns the logger for this invocation.
func (c *Context) Logger() logging.Logger { return c.logger }

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Set is an immutable collection of tools keyed by name.
type Set struct {
	tools map[string]Tool
	order []string
}

// NewSet builds a set; later tools replace earlier ones with the same name.
func NewSet(tools ...Tool) *Set {
	s := &Set{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, ok := s.tools[t.Name()]; !ok {
			s.order = append(s.order, t.Name())
		}
		s.tools[t.Name()] = t
	}
	return s
}

// Get looks up a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tools[name]
	return t, ok
}

// Names lists the tool names in registration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.order)
}

// Definitions returns model tool definitions for the allowlisted tools
// that exist in the set, in allowlist order.
func (s *Set) Definitions(allowlist []string) []model.ToolDefinition {
	var defs []model.ToolDefinition
	for _, name := range allowlist {
		t, ok := s.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
