package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Model = (*MockModel)(nil)

func TestMockModel_CannedAndEcho(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("hello", "hi there")

	resp, err := Collect(context.Background(), m, Request{Messages: []Message{{Role: RoleUser, Content: "hello"}}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Message.Content)
	assert.Equal(t, "stop", resp.FinishReason)

	resp, err = Collect(context.Background(), m, Request{Messages: []Message{{Role: RoleUser, Content: "other"}}, Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Message.Content)
	assert.Equal(t, 2, m.Calls())
}

func TestMockModel_ScriptedToolCall(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.QueueToolCall("call-1", "get_time", `{"format":"short"}`)
	m.QueueText("done")

	resp, err := Collect(context.Background(), m, Request{})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	args, err := resp.Message.ToolCalls[0].Function.DecodeArguments()
	require.NoError(t, err)
	assert.Equal(t, "short", args["format"])

	resp, err = Collect(context.Background(), m, Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Message.Content)
}

func TestMockModel_ErrorAndTimeout(t *testing.T) {
	m := NewMockModel("mock", "mock")
	boom := errors.New("boom")
	m.SetError(boom)
	_, err := Collect(context.Background(), m, Request{})
	assert.ErrorIs(t, err, boom)

	m.SetError(nil)
	m.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Collect(ctx, m, Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeArguments_Invalid(t *testing.T) {
	_, err := ToolCallFunction{Name: "x", Arguments: "{"}.DecodeArguments()
	assert.Error(t, err)
	args, err := ToolCallFunction{Name: "x"}.DecodeArguments()
	require.NoError(t, err)
	assert.Empty(t, args)
}
