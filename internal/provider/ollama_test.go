package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func streamHandler(lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			fmt.Fprintln(w, line)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func collect(t *testing.T, frames <-chan StreamFrame, errs <-chan error) ([]StreamFrame, error) {
	t.Helper()
	var got []StreamFrame
	for f := range frames {
		got = append(got, f)
	}
	return got, <-errs
}

func TestChatStreamCumulativeFrames(t *testing.T) {
	srv := httptest.NewServer(streamHandler([]string{
		`{"message":{"role":"assistant","content":"The answer"},"done":false}`,
		`{"message":{"role":"assistant","content":" is 4."},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "", "test-model")
	frames, errs := client.ChatStream(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "What is 2+2?"}},
	})

	got, err := collect(t, frames, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	if got[0].Content != "The answer" {
		t.Errorf("frame 0 content = %q", got[0].Content)
	}
	if got[1].Content != "The answer is 4." {
		t.Errorf("frame 1 content not cumulative: %q", got[1].Content)
	}
	if !got[2].Done {
		t.Error("last frame should be done")
	}
	if got[2].Content != "The answer is 4." {
		t.Errorf("final content = %q", got[2].Content)
	}
}

func TestChatStreamSkipsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(streamHandler([]string{
		`{"message":{"role":"assistant","content":"ok"},"done":false}`,
		`{garbled`,
		``,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "", "test-model")
	frames, errs := client.ChatStream(context.Background(), &ChatRequest{})

	got, err := collect(t, frames, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if got[1].Content != "ok" {
		t.Errorf("final content = %q", got[1].Content)
	}
}

func TestChatStreamThinkingExtraction(t *testing.T) {
	srv := httptest.NewServer(streamHandler([]string{
		`{"message":{"role":"assistant","content":"<think>two plus"},"done":false}`,
		`{"message":{"role":"assistant","content":" two</think>4"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "", "test-model")
	frames, errs := client.ChatStream(context.Background(), &ChatRequest{})

	got, err := collect(t, frames, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	first := got[0]
	if first.Content != "" {
		t.Errorf("open reasoning leaked into content: %q", first.Content)
	}
	if first.Thinking != "two plus" {
		t.Errorf("frame 0 thinking = %q", first.Thinking)
	}
	last := got[len(got)-1]
	if last.Content != "4" {
		t.Errorf("final content = %q, want %q", last.Content, "4")
	}
	if last.Thinking != "two plus two" {
		t.Errorf("final thinking = %q", last.Thinking)
	}
}

func TestChatStreamToolCalls(t *testing.T) {
	srv := httptest.NewServer(streamHandler([]string{
		`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"list_dir","arguments":{"path":"."}}}]},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "", "test-model")
	frames, errs := client.ChatStream(context.Background(), &ChatRequest{})

	got, err := collect(t, frames, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(got[0].ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(got[0].ToolCalls))
	}
	tc := got[0].ToolCalls[0]
	if tc.Function.Name != "list_dir" {
		t.Errorf("tool name = %q", tc.Function.Name)
	}
	if tc.Function.Arguments["path"] != "." {
		t.Errorf("tool arguments = %v", tc.Function.Arguments)
	}
}

func TestChatStreamNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "", "test-model")
	frames, errs := client.ChatStream(context.Background(), &ChatRequest{})

	got, err := collect(t, frames, errs)
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if len(got) != 0 {
		t.Errorf("expected no frames, got %d", len(got))
	}
}

func TestChatStreamDropBeforeDone(t *testing.T) {
	srv := httptest.NewServer(streamHandler([]string{
		`{"message":{"role":"assistant","content":"partial"},"done":false}`,
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "", "test-model")
	frames, errs := client.ChatStream(context.Background(), &ChatRequest{})

	got, err := collect(t, frames, errs)
	if err == nil {
		t.Fatal("expected error when stream ends before done record")
	}
	if len(got) != 1 {
		t.Errorf("expected the partial frame to be delivered, got %d", len(got))
	}
}
