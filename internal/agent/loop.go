// Package agent implements the streaming turn orchestrator: the bounded
// tool-call loop over the model backend and the publisher that turns its
// frames into caller-visible events.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unrcom/llamune-chat/internal/provider"
	"github.com/unrcom/llamune-chat/internal/store"
	"github.com/unrcom/llamune-chat/internal/tools"
	"github.com/unrcom/llamune-chat/internal/workspace"
)

// state is the turn-processing state. A turn starts in stateStreaming and
// alternates with stateExecutingTools until it reaches one of the two
// terminal states.
type state int

const (
	stateStreaming state = iota
	stateExecutingTools
	stateFinalized
	stateAborted
)

// DefaultMaxToolRounds bounds how many times one turn may re-enter
// streaming after executing tools.
const DefaultMaxToolRounds = 5

// MessageLog is the narrow contract the orchestrator needs from the
// persistent per-session message log.
type MessageLog interface {
	Append(sessionID string, msg *store.Message) (string, error)
	ListMessages(sessionID string) ([]store.Message, error)
	DeleteMessage(id string) error
	DeleteMostRecentAssistant(sessionID string) error
	DeleteSecondMostRecentAssistant(sessionID string) error
	MarkAdopted(id string) error
}

// TurnRequest describes one user turn to process.
type TurnRequest struct {
	SessionID     string
	Model         string
	Temperature   float64
	SystemPrompt  string
	WorkspaceRoot string
	// Messages is the full in-turn message list, ending with the new user
	// message. The system prompt is not included; the orchestrator prepends
	// it (augmented with the workspace listing when a root is attached).
	Messages []provider.Message
}

// Orchestrator drives the streaming tool-call loop for one conversation at
// a time. One turn runs as one goroutine; the session's log is touched only
// at state transitions, never concurrently.
type Orchestrator struct {
	client    provider.StreamClient
	registry  *tools.Registry
	maxRounds int
}

// NewOrchestrator creates an orchestrator. maxRounds <= 0 selects the
// default bound.
func NewOrchestrator(client provider.StreamClient, registry *tools.Registry, maxRounds int) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	return &Orchestrator{client: client, registry: registry, maxRounds: maxRounds}
}

// Stream runs the tool-call loop and returns the resolved frame sequence:
// every published frame carries no tool calls, exactly the last one carries
// Done, and the errs channel delivers at most one fatal error. Frames of a
// sub-turn that requests tools are suppressed; the loop feeds tool results
// back to the backend and streams the next sub-turn instead.
func (o *Orchestrator) Stream(ctx context.Context, req *TurnRequest) (<-chan provider.StreamFrame, <-chan error) {
	frames := make(chan provider.StreamFrame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)
		if err := o.run(ctx, req, frames); err != nil {
			errs <- err
		}
	}()

	return frames, errs
}

func (o *Orchestrator) run(ctx context.Context, req *TurnRequest, out chan<- provider.StreamFrame) error {
	messages := o.buildMessages(req)

	var toolDefs []provider.ToolDefinition
	if req.WorkspaceRoot != "" {
		toolDefs = o.registry.Definitions()
	}

	st := stateStreaming
	rounds := 0
	var last provider.StreamFrame
	var pending []provider.ToolCall
	var abortErr error

	for {
		switch st {
		case stateStreaming:
			var err error
			pending, err = o.streamOnce(ctx, req, messages, toolDefs, &last, out)
			if err != nil {
				abortErr = err
				st = stateAborted
				break
			}
			if len(pending) == 0 {
				st = stateFinalized
				break
			}
			if rounds >= o.maxRounds {
				// Bound exceeded: finalize with the last content produced
				// instead of letting model/tool ping-pong starve the caller.
				slog.Warn("Tool round bound exceeded", "session", req.SessionID, "rounds", rounds)
				st = stateFinalized
				break
			}
			messages = append(messages, provider.Message{
				Role:      provider.RoleAssistant,
				Content:   "",
				ToolCalls: pending,
			})
			st = stateExecutingTools

		case stateExecutingTools:
			// Sequential on purpose: later calls may depend on earlier
			// results within the same turn.
			for _, tc := range pending {
				result := o.registry.Execute(ctx, req.WorkspaceRoot, tc.Function.Name, tc.Function.Arguments)
				slog.Debug("Tool executed", "name", tc.Function.Name, "result_length", len(result))
				messages = append(messages, provider.Message{
					Role:    provider.RoleTool,
					Content: result,
				})
			}
			rounds++
			st = stateStreaming

		case stateFinalized:
			final := last
			final.Done = true
			final.ToolCalls = nil
			select {
			case out <- final:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil

		case stateAborted:
			// Partial content already streamed stays with the caller; the
			// publisher commits nothing for an aborted turn.
			return abortErr
		}
	}
}

// streamOnce runs one model call. Frames without tool calls are republished
// (with Done stripped, since only the orchestrator decides when the turn is
// over); the first frame carrying tool calls suppresses further publication
// for this sub-turn.
func (o *Orchestrator) streamOnce(ctx context.Context, req *TurnRequest, messages []provider.Message, toolDefs []provider.ToolDefinition, last *provider.StreamFrame, out chan<- provider.StreamFrame) ([]provider.ToolCall, error) {
	frames, errs := o.client.ChatStream(ctx, &provider.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       toolDefs,
		Temperature: req.Temperature,
	})

	var pending []provider.ToolCall
	for frame := range frames {
		if len(frame.ToolCalls) > 0 {
			// A tool-call frame supersedes the sub-turn's buffered content.
			pending = append(pending, frame.ToolCalls...)
			continue
		}
		if len(pending) > 0 {
			continue
		}
		*last = frame
		if frame.Done || (frame.Content == "" && frame.Thinking == "") {
			// The backend's done flag is not forwarded: only the
			// orchestrator decides when the turn is over, and it re-emits
			// the final cumulative frame on finalization.
			continue
		}
		publish := frame
		select {
		case out <- publish:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return pending, nil
}

// buildMessages prepends the system prompt, augmented with the workspace
// tree when a root is attached.
func (o *Orchestrator) buildMessages(req *TurnRequest) []provider.Message {
	system := req.SystemPrompt
	if req.WorkspaceRoot != "" {
		if tree, err := workspace.ListTree(req.WorkspaceRoot); err == nil && tree != "" {
			if system != "" {
				system += "\n\n"
			}
			system += "Files in the attached workspace:\n" + tree
		} else if err != nil {
			slog.Warn("Workspace listing failed", "root", req.WorkspaceRoot, "error", err)
		}
	}

	messages := make([]provider.Message, 0, len(req.Messages)+1)
	if system != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})
	}
	messages = append(messages, req.Messages...)
	return messages
}

// HistoryMessages converts a persisted log into the in-turn message list,
// dropping transient roles that never re-enter the prompt.
func HistoryMessages(log []store.Message) []provider.Message {
	messages := make([]provider.Message, 0, len(log))
	for _, m := range log {
		if m.Role != provider.RoleUser && m.Role != provider.RoleAssistant {
			continue
		}
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

// RetryMessages is HistoryMessages with the most recent assistant entry
// excluded, the prompt shape used to generate an alternative answer to the
// same turn.
func RetryMessages(log []store.Message) ([]provider.Message, error) {
	lastAssistant := -1
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == provider.RoleAssistant {
			lastAssistant = i
			break
		}
	}
	if lastAssistant < 0 {
		return nil, fmt.Errorf("no assistant message to retry")
	}
	trimmed := make([]store.Message, 0, len(log)-1)
	trimmed = append(trimmed, log[:lastAssistant]...)
	trimmed = append(trimmed, log[lastAssistant+1:]...)
	return HistoryMessages(trimmed), nil
}

// TitleFromPrompt derives a session title from the first user message.
func TitleFromPrompt(prompt string) string {
	title := strings.TrimSpace(prompt)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > 64 {
		title = title[:64]
	}
	return title
}
