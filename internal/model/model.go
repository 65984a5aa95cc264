// Package model is the boundary to the language model provider. The
// orchestrator depends only on the Client interface; tests substitute a
// scripted client.
package model

import (
	"context"

	"github.com/seamarks/helmsman/internal/tools"
)

// Role labels a conversation turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn is one message in the running transcript.
type Turn struct {
	Role    string
	Content string
	// ToolCalls is set on assistant turns that requested tools.
	ToolCalls []tools.Call
	// Results carries tool outputs back on tool turns.
	Results []tools.Result
}

// Request is one model invocation: the system prompt, the transcript so
// far, and the tool catalog the model may call into.
type Request struct {
	System  string
	Turns   []Turn
	Catalog []tools.Definition
	// OnDelta, when set, receives streaming text fragments as they
	// arrive. The full text is still returned on the Response.
	OnDelta func(text string)
}

// Response is the model's reply. Either Text, ToolCalls, or both may be
// populated; a response with no tool calls ends the orchestration loop.
type Response struct {
	Text      string
	ToolCalls []tools.Call
}

// Client generates a response from the provider. Implementations wrap
// provider failures in fault.Provider so callers can classify them.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

func (f ClientFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
