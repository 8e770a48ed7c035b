package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one normalized conversation turn.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on RoleTool messages
}

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string of arguments
}

// DecodeArguments unmarshals the call arguments into a generic map.
func (f ToolCallFunction) DecodeArguments() (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(f.Arguments) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(f.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", f.Name, err)
	}
	return args, nil
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input.
type Request struct {
	Instructions string           `json:"instructions"` // system prompt
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"` // Indicates if this is a partial response
	Message      Message     `json:"message"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by decision strategies and
// context compaction to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Collect when the model closed its stream
// without a final response.
var ErrNoResponse = errors.New("model returned no final response")

// Collect drives Generate to completion and returns the final response.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)
	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final = &r
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if final == nil {
		return Response{}, ErrNoResponse
	}
	return *final, nil
}

// MockModel is a lightweight in-memory Model useful for tests and offline runs.
// Scripted replies are consumed in order; once exhausted, canned prompt
// responses or an echo are returned.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	script    []Message
	err       error
	delay     time.Duration
	calls     int
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// QueueText appends a scripted text reply.
func (m *MockModel) QueueText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, Message{Role: RoleAssistant, Content: text})
}

// QueueToolCall appends a scripted tool call reply.
func (m *MockModel) QueueToolCall(id, name, arguments string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, Message{Role: RoleAssistant, ToolCalls: []ToolCall{{
		ID:       id,
		Type:     "function",
		Function: ToolCallFunction{Name: name, Arguments: arguments},
	}}})
}

// SetError makes every subsequent call fail with err.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every call wait d (or until the context ends).
func (m *MockModel) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns how many times Generate was invoked.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the recorded requests.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockModel) next(req Request) (Message, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if m.err != nil {
		return Message{}, m.delay, m.err
	}
	if len(m.script) > 0 {
		msg := m.script[0]
		m.script = m.script[1:]
		return msg, m.delay, nil
	}
	if len(req.Messages) == 0 {
		return Message{}, m.delay, fmt.Errorf("no messages provided")
	}
	input := req.Messages[len(req.Messages)-1].Content
	full := m.responses[input]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", input)
	}
	return Message{Role: RoleAssistant, Content: full}, m.delay, nil
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		msg, delay, err := m.next(req)
		if delay > 0 {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-time.After(delay):
			}
		}
		if err != nil {
			errCh <- err
			return
		}
		if req.Stream && msg.Content != "" {
			for _, r := range msg.Content {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Message: Message{Role: RoleAssistant, Content: string(r)}}:
				}
			}
		}
		finish := "stop"
		if len(msg.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{Message: msg, FinishReason: finish}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
