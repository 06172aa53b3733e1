// Package provider implements the streaming model backend client.
package provider

import (
	"context"
)

// Role identifies who produced a message. It is a closed set; construct
// messages only with the constants below.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message represents a chat message.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall represents a tool invocation emitted by the model.
type ToolCall struct {
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition defines a tool that can be called by the model.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest contains the parameters for a streaming chat call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
}

// StreamFrame is one incremental progress report from the backend.
// Content and Thinking are cumulative: each frame carries the full text
// produced so far, not a delta.
type StreamFrame struct {
	Content   string
	Thinking  string
	ToolCalls []ToolCall
	Done      bool
}

// StreamClient is the interface for streaming model backends.
//
// ChatStream opens one streaming call. The frames channel is closed after
// the final frame; the errs channel delivers at most one error (a failure
// to establish the call or a mid-stream drop) and is closed alongside the
// frames channel. A stream is restartable per call, not resumable mid-way.
type StreamClient interface {
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamFrame, <-chan error)
	DefaultModel() string
}
