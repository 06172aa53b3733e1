package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/unrcom/llamune-chat/internal/provider"
	"github.com/unrcom/llamune-chat/internal/store"
)

// Event is one caller-visible progress report for a turn.
type Event struct {
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
	Done     bool   `json:"done"`

	// MessageID is set on the terminal event: the id of the assistant
	// message committed to the log.
	MessageID string `json:"message_id,omitempty"`

	// Err is set on the error event, which terminates the sequence in
	// place of a successful terminal event.
	Err error `json:"-"`
}

// TurnResult summarizes a finalized turn.
type TurnResult struct {
	SessionID string
	MessageID string
	Content   string
	Thinking  string
	Model     string
	Duration  time.Duration
}

// Publisher converts the orchestrator's frame sequence into the outward
// event sequence and commits the final answer to the message log.
type Publisher struct {
	orch *Orchestrator
	log  MessageLog

	// OnTurn, when set, observes every successfully finalized turn.
	// Failures there never affect the turn.
	OnTurn func(TurnResult)
}

// NewPublisher creates a publisher over an orchestrator and a message log.
func NewPublisher(orch *Orchestrator, log MessageLog) *Publisher {
	return &Publisher{orch: orch, log: log}
}

// Run processes one turn and streams its events. Events are produced as
// frames arrive, never buffered until completion. On success the last event
// carries Done and the committed message id; on a fatal stream error the
// last event carries Err and nothing is committed. Content already
// published is not retracted, but an incomplete answer is never persisted.
func (p *Publisher) Run(ctx context.Context, req *TurnRequest) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)
		started := time.Now()

		frames, errs := p.orch.Stream(ctx, req)
		var last provider.StreamFrame
		finalized := false

		for frame := range frames {
			last = frame
			if frame.Done {
				finalized = true
				break
			}
			if !emit(ctx, events, Event{Content: frame.Content, Thinking: frame.Thinking}) {
				return
			}
		}
		if err := <-errs; err != nil {
			slog.Error("Turn aborted", "session", req.SessionID, "error", err)
			emit(ctx, events, Event{Err: err})
			return
		}
		if !finalized {
			return
		}

		id, err := p.log.Append(req.SessionID, &store.Message{
			Role:     provider.RoleAssistant,
			Content:  last.Content,
			Thinking: last.Thinking,
			Model:    req.Model,
		})
		if err != nil {
			slog.Error("Commit failed", "session", req.SessionID, "error", err)
			emit(ctx, events, Event{Err: err})
			return
		}

		if p.OnTurn != nil {
			p.OnTurn(TurnResult{
				SessionID: req.SessionID,
				MessageID: id,
				Content:   last.Content,
				Thinking:  last.Thinking,
				Model:     req.Model,
				Duration:  time.Since(started),
			})
		}

		emit(ctx, events, Event{
			Content:   last.Content,
			Thinking:  last.Thinking,
			Done:      true,
			MessageID: id,
		})
	}()

	return events
}

// emit reports false when the caller is gone; production stops but applied
// tool calls are not undone.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
