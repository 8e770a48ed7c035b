package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/classmesh/agent"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/logging"
)

// CallbackType defines the lifecycle points of a tick where callbacks run.
//
// Available callback types:
//   - BeforeTick: after events are scheduled, before agents are released
//   - AfterCommit: once messages and knowledge of the tick are committed
//   - OnAgentError: for every agent step that timed out, failed or panicked
//
// Callbacks run synchronously on the simulation goroutine.
type CallbackType string

const (
	// CallbackBeforeTick can veto a tick by returning an error; the tick is
	// then abandoned without being committed.
	CallbackBeforeTick CallbackType = "before_tick"

	// CallbackAfterCommit is triggered after a tick is committed. Errors are
	// logged and otherwise ignored.
	CallbackAfterCommit CallbackType = "after_commit"

	// CallbackOnAgentError is triggered once per failed agent step.
	CallbackOnAgentError CallbackType = "on_agent_error"
)

// CallbackContext carries what a callback may inspect. Only the fields
// relevant to the callback type are set.
type CallbackContext struct {
	Tick     int64
	Time     core.SimTime
	Events   []core.SystemEvent
	Messages []core.Message
	Result   *agent.StepResult
	AgentID  string

	CallbackType CallbackType
}

// Callback defines the interface for tick lifecycle hooks.
//
// Implementations should be fast, since they block the tick, and safe for
// concurrent use.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(
//	    CallbackAfterCommit,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("tick %d: %d messages", cc.Tick, len(cc.Messages))
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager keeps the registered callbacks per type. Callbacks are
// executed in registration order and the first error stops the chain.
// Registration is safe while a simulation is running.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes one structured log line per callback.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logging.OrNoOp(logger),
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the tick, the agent and the outcome when available.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	args := []any{"tick", callbackCtx.Tick, "events", len(callbackCtx.Events), "messages", len(callbackCtx.Messages)}
	if callbackCtx.AgentID != "" {
		args = append(args, "agent_id", callbackCtx.AgentID)
	}
	if r := callbackCtx.Result; r != nil && r.Err != nil {
		args = append(args, "error", r.Err.Error())
	}
	c.logger.Debug("engine.callback."+string(c.callbackType), args...)
	return nil
}
