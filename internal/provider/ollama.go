package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaClient implements StreamClient against an Ollama-compatible
// /api/chat endpoint speaking newline-delimited JSON.
type OllamaClient struct {
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaClient creates a new streaming client. No per-call timeout is
// applied; a turn runs as long as the backend keeps producing.
func NewOllamaClient(baseURL, apiKey, defaultModel string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if defaultModel == "" {
		defaultModel = "qwen3:8b"
	}
	return &OllamaClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 0},
	}
}

// DefaultModel returns the configured default model.
func (c *OllamaClient) DefaultModel() string {
	return c.defaultModel
}

// chatRecord is one newline-delimited record of the backend stream.
type chatRecord struct {
	Message struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		Thinking  string     `json:"thinking"`
		ToolCalls []ToolCall `json:"tool_calls"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// ChatStream opens a streaming chat call and converts the record stream into
// cumulative StreamFrames. Malformed records are skipped; a non-2xx response
// or a stream that drops before the final done record yields one error on
// the errs channel.
func (c *OllamaClient) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamFrame, <-chan error) {
	frames := make(chan StreamFrame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)
		if err := c.stream(ctx, req, frames); err != nil {
			errs <- err
		}
	}()

	return frames, errs
}

func (c *OllamaClient) stream(ctx context.Context, req *ChatRequest, frames chan<- StreamFrame) error {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	body := map[string]any{
		"model":    model,
		"messages": c.convertMessages(req.Messages),
		"stream":   true,
		"options": map[string]any{
			"temperature": req.Temperature,
		},
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var raw strings.Builder      // cumulative visible text as received
	var thinking strings.Builder // cumulative native thinking deltas
	sawDone := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec chatRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Tolerant parsing: a corrupted chunk boundary must not lose
			// an otherwise-good answer.
			continue
		}
		if rec.Error != "" {
			return fmt.Errorf("backend stream error: %s", rec.Error)
		}

		raw.WriteString(rec.Message.Content)
		thinking.WriteString(rec.Message.Thinking)

		content, extracted := ExtractThinking(raw.String(), rec.Done)
		frame := StreamFrame{
			Content:   content,
			Thinking:  thinking.String() + extracted,
			ToolCalls: rec.Message.ToolCalls,
			Done:      rec.Done,
		}

		select {
		case frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}

		if rec.Done {
			sawDone = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if !sawDone {
		return fmt.Errorf("stream ended before final record")
	}
	return nil
}

func (c *OllamaClient) convertMessages(messages []Message) []map[string]any {
	result := make([]map[string]any, len(messages))
	for i, msg := range messages {
		m := map[string]any{
			"role":    string(msg.Role),
			"content": msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			m["tool_calls"] = msg.ToolCalls
		}
		result[i] = m
	}
	return result
}
