package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unrcom/llamune-chat/internal/provider"
	"github.com/unrcom/llamune-chat/internal/store"
	"github.com/unrcom/llamune-chat/internal/tools"
)

// scriptedClient plays back one scripted frame sequence per model call and
// records the message list of every call.
type scriptedClient struct {
	scripts [][]provider.StreamFrame
	errs    []error
	calls   [][]provider.Message
}

func (c *scriptedClient) DefaultModel() string { return "test-model" }

func (c *scriptedClient) ChatStream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamFrame, <-chan error) {
	frames := make(chan provider.StreamFrame)
	errs := make(chan error, 1)

	call := len(c.calls)
	msgs := make([]provider.Message, len(req.Messages))
	copy(msgs, req.Messages)
	c.calls = append(c.calls, msgs)

	go func() {
		defer close(frames)
		defer close(errs)
		if call < len(c.errs) && c.errs[call] != nil {
			errs <- c.errs[call]
			return
		}
		script := c.scripts[call%len(c.scripts)]
		for _, f := range script {
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	return frames, errs
}

// memLog is an in-memory MessageLog.
type memLog struct {
	messages []store.Message
	nextID   int
}

func (l *memLog) Append(sessionID string, msg *store.Message) (string, error) {
	l.nextID++
	msg.ID = fmt.Sprintf("m%d", l.nextID)
	msg.SessionID = sessionID
	l.messages = append(l.messages, *msg)
	return msg.ID, nil
}

func (l *memLog) ListMessages(sessionID string) ([]store.Message, error) {
	out := make([]store.Message, len(l.messages))
	copy(out, l.messages)
	return out, nil
}

func (l *memLog) DeleteMessage(id string) error {
	for i, m := range l.messages {
		if m.ID == id {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message not found: %s", id)
}

func (l *memLog) DeleteMostRecentAssistant(sessionID string) error {
	return l.deleteNthAssistant(0)
}

func (l *memLog) DeleteSecondMostRecentAssistant(sessionID string) error {
	return l.deleteNthAssistant(1)
}

func (l *memLog) deleteNthAssistant(offset int) error {
	seen := 0
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role != provider.RoleAssistant {
			continue
		}
		if seen == offset {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return nil
		}
		seen++
	}
	return fmt.Errorf("no assistant message at offset %d", offset)
}

func (l *memLog) MarkAdopted(id string) error {
	for i := range l.messages {
		if l.messages[i].ID == id {
			l.messages[i].IsAdopted = true
			return nil
		}
	}
	return fmt.Errorf("message not found: %s", id)
}

func textScript(parts ...string) []provider.StreamFrame {
	frames := make([]provider.StreamFrame, 0, len(parts)+1)
	cum := ""
	for _, p := range parts {
		cum += p
		frames = append(frames, provider.StreamFrame{Content: cum})
	}
	frames = append(frames, provider.StreamFrame{Content: cum, Done: true})
	return frames
}

func toolScript(name string, args map[string]any) []provider.StreamFrame {
	return []provider.StreamFrame{
		{ToolCalls: []provider.ToolCall{{Function: provider.FunctionCall{Name: name, Arguments: args}}}},
		{Done: true},
	}
}

func runTurn(t *testing.T, client *scriptedClient, log *memLog, req *TurnRequest) []Event {
	t.Helper()
	orch := NewOrchestrator(client, tools.NewRegistry(), 0)
	pub := NewPublisher(orch, log)

	var events []Event
	for ev := range pub.Run(context.Background(), req) {
		events = append(events, ev)
	}
	return events
}

func TestSimpleTurn(t *testing.T) {
	// Scenario: one question, no workspace root, no tools.
	client := &scriptedClient{scripts: [][]provider.StreamFrame{textScript("4")}}
	log := &memLog{}

	events := runTurn(t, client, log, &TurnRequest{
		SessionID: "s1",
		Model:     "test-model",
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "What is 2+2?"}},
	})

	if len(client.calls) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(client.calls))
	}
	last := events[len(events)-1]
	if !last.Done || last.Content != "4" {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
	if len(log.messages) != 1 {
		t.Fatalf("expected 1 committed message, got %d", len(log.messages))
	}
	if log.messages[0].Role != provider.RoleAssistant || log.messages[0].Content != "4" {
		t.Errorf("unexpected committed message: %+v", log.messages[0])
	}
	if log.messages[0].Model != "test-model" {
		t.Errorf("committed message missing model: %+v", log.messages[0])
	}
}

func TestSingleToolRound(t *testing.T) {
	// Scenario: the model asks for a directory listing, then answers.
	root := t.TempDir()
	client := &scriptedClient{scripts: [][]provider.StreamFrame{
		toolScript("list_files", nil),
		textScript("The workspace is empty."),
	}}
	log := &memLog{}

	events := runTurn(t, client, log, &TurnRequest{
		SessionID:     "s1",
		Model:         "test-model",
		WorkspaceRoot: root,
		Messages:      []provider.Message{{Role: provider.RoleUser, Content: "What files are there?"}},
	})

	if len(client.calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(client.calls))
	}

	// The second call sees the tool-call announcement and one tool result.
	second := client.calls[1]
	n := len(second)
	if second[n-2].Role != provider.RoleAssistant || len(second[n-2].ToolCalls) != 1 {
		t.Errorf("expected tool-call assistant message, got %+v", second[n-2])
	}
	if second[n-2].Content != "" {
		t.Errorf("tool-call announcement should have empty content: %q", second[n-2].Content)
	}
	if second[n-1].Role != provider.RoleTool {
		t.Errorf("expected tool result message, got %+v", second[n-1])
	}

	last := events[len(events)-1]
	if !last.Done || last.Content != "The workspace is empty." {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
	// No tool markup leaks into the committed answer.
	if len(log.messages) != 1 || strings.Contains(log.messages[0].Content, "list_files") {
		t.Errorf("unexpected commit: %+v", log.messages)
	}
}

func TestToolRoundsAppendInOrder(t *testing.T) {
	// Two tool rounds: 3 model calls, 2 tool results, one announcement per
	// round.
	root := t.TempDir()
	client := &scriptedClient{scripts: [][]provider.StreamFrame{
		toolScript("list_files", nil),
		toolScript("read_file", map[string]any{"path": "a.txt"}),
		textScript("done"),
	}}
	log := &memLog{}

	runTurn(t, client, log, &TurnRequest{
		SessionID:     "s1",
		WorkspaceRoot: root,
		Messages:      []provider.Message{{Role: provider.RoleUser, Content: "inspect"}},
	})

	if len(client.calls) != 3 {
		t.Fatalf("expected 3 model calls, got %d", len(client.calls))
	}
	third := client.calls[2]
	var kinds []string
	for _, m := range third {
		switch {
		case m.Role == provider.RoleAssistant && len(m.ToolCalls) > 0:
			kinds = append(kinds, "calls")
		case m.Role == provider.RoleTool:
			kinds = append(kinds, "result")
		}
	}
	want := []string{"calls", "result", "calls", "result"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("tool message interleaving = %v, want %v", kinds, want)
	}
}

func TestRecursionBound(t *testing.T) {
	// A backend that always requests another tool call must still finalize
	// after the bound number of rounds.
	root := t.TempDir()
	client := &scriptedClient{scripts: [][]provider.StreamFrame{
		toolScript("list_files", nil),
	}}
	log := &memLog{}

	orch := NewOrchestrator(client, tools.NewRegistry(), 0)
	pub := NewPublisher(orch, log)

	var last Event
	for ev := range pub.Run(context.Background(), &TurnRequest{
		SessionID:     "s1",
		WorkspaceRoot: root,
		Messages:      []provider.Message{{Role: provider.RoleUser, Content: "loop"}},
	}) {
		last = ev
	}

	if len(client.calls) != DefaultMaxToolRounds+1 {
		t.Fatalf("expected %d model calls, got %d", DefaultMaxToolRounds+1, len(client.calls))
	}
	if !last.Done {
		t.Fatalf("expected the turn to finalize, got %+v", last)
	}
	if len(log.messages) != 1 {
		t.Errorf("expected 1 committed message, got %d", len(log.messages))
	}
}

func TestAbortCommitsNothing(t *testing.T) {
	client := &scriptedClient{
		scripts: [][]provider.StreamFrame{textScript("never")},
		errs:    []error{fmt.Errorf("connection refused")},
	}
	log := &memLog{}

	events := runTurn(t, client, log, &TurnRequest{
		SessionID: "s1",
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})

	last := events[len(events)-1]
	if last.Err == nil {
		t.Fatalf("expected error event, got %+v", last)
	}
	if len(log.messages) != 0 {
		t.Errorf("aborted turn must not commit, got %d messages", len(log.messages))
	}
}

func TestEventsMatchFramesWithoutToolCalls(t *testing.T) {
	client := &scriptedClient{scripts: [][]provider.StreamFrame{textScript("The ", "answer ", "is 4.")}}
	log := &memLog{}

	events := runTurn(t, client, log, &TurnRequest{
		SessionID: "s1",
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "?"}},
	})

	want := []string{"The ", "The answer ", "The answer is 4.", "The answer is 4."}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, ev := range events {
		if ev.Content != want[i] {
			t.Errorf("event %d content = %q, want %q", i, ev.Content, want[i])
		}
	}
	if events[len(events)-1].MessageID == "" {
		t.Error("terminal event should carry the committed message id")
	}
}

func TestWorkspaceListingInSystemPrompt(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0644); err != nil {
		t.Fatal(err)
	}
	client := &scriptedClient{scripts: [][]provider.StreamFrame{textScript("ok")}}
	log := &memLog{}

	runTurn(t, client, log, &TurnRequest{
		SessionID:     "s1",
		SystemPrompt:  "Be brief.",
		WorkspaceRoot: root,
		Messages:      []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})

	first := client.calls[0][0]
	if first.Role != provider.RoleSystem {
		t.Fatalf("expected system message first, got %+v", first)
	}
	if !strings.Contains(first.Content, "Be brief.") || !strings.Contains(first.Content, "workspace") {
		t.Errorf("system prompt missing workspace augmentation: %q", first.Content)
	}
}

func TestRetryMessagesExcludesLatestAssistant(t *testing.T) {
	log := []store.Message{
		{Role: provider.RoleUser, Content: "q1"},
		{Role: provider.RoleAssistant, Content: "a1"},
		{Role: provider.RoleUser, Content: "q2"},
		{Role: provider.RoleAssistant, Content: "a2"},
	}

	messages, err := RetryMessages(log)
	if err != nil {
		t.Fatalf("retry messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for _, m := range messages {
		if m.Content == "a2" {
			t.Error("latest assistant answer should be excluded")
		}
	}

	if _, err := RetryMessages([]store.Message{{Role: provider.RoleUser, Content: "q"}}); err == nil {
		t.Error("expected error without an assistant message")
	}
}
