// Package candidate tracks alternative answers to a single turn and turns a
// confirmed adopt/keep/discard decision into message-log mutations.
package candidate

import (
	"fmt"
	"sync"

	"github.com/unrcom/llamune-chat/internal/agent"
)

// Action is a caller's decision about one candidate.
type Action string

// Candidate actions. ActionNone means not yet decided.
const (
	ActionNone    Action = ""
	ActionAdopt   Action = "adopt"
	ActionKeep    Action = "keep"
	ActionDiscard Action = "discard"
)

func (a Action) valid() bool {
	switch a {
	case ActionNone, ActionAdopt, ActionKeep, ActionDiscard:
		return true
	}
	return false
}

// MaxCandidates bounds how many answers to one turn may coexist.
const MaxCandidates = 8

// Candidate is one complete answer to a turn.
type Candidate struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Model     string `json:"model"`
	Action    Action `json:"action"`
}

// Manager holds at most one open comparison per session. Confirmed or
// abandoned comparisons release their slot.
type Manager struct {
	log agent.MessageLog

	mu   sync.Mutex
	open map[string][]Candidate
}

// NewManager creates a manager over the message log.
func NewManager(log agent.MessageLog) *Manager {
	return &Manager{log: log, open: make(map[string][]Candidate)}
}

// Begin opens a comparison seeded with the turn's existing answer.
func (m *Manager) Begin(sessionID string, original Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[sessionID]; ok {
		return fmt.Errorf("comparison already open for session %s", sessionID)
	}
	original.Action = ActionNone
	m.open[sessionID] = []Candidate{original}
	return nil
}

// AddRetry records one freshly generated alternative. The retry's message
// is already in the log from its own generation; the comparison only tracks
// it.
func (m *Manager) AddRetry(sessionID string, c Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates, ok := m.open[sessionID]
	if !ok {
		return fmt.Errorf("no open comparison for session %s", sessionID)
	}
	if len(candidates) >= MaxCandidates {
		return fmt.Errorf("candidate limit reached (%d)", MaxCandidates)
	}
	c.Action = ActionNone
	m.open[sessionID] = append(candidates, c)
	return nil
}

// List returns the open comparison's candidates.
func (m *Manager) List(sessionID string) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates, ok := m.open[sessionID]
	if !ok {
		return nil, fmt.Errorf("no open comparison for session %s", sessionID)
	}
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	return out, nil
}

// SetAction assigns an action to one candidate. Assigning adopt clears
// adopt from every other candidate.
func (m *Manager) SetAction(sessionID string, index int, action Action) error {
	if !action.valid() {
		return fmt.Errorf("unknown action: %q", action)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates, ok := m.open[sessionID]
	if !ok {
		return fmt.Errorf("no open comparison for session %s", sessionID)
	}
	if index < 0 || index >= len(candidates) {
		return fmt.Errorf("candidate index out of range: %d", index)
	}
	if action == ActionAdopt {
		for i := range candidates {
			if candidates[i].Action == ActionAdopt {
				candidates[i].Action = ActionNone
			}
		}
	}
	candidates[index].Action = action
	return nil
}

// Confirm applies the decision: the adopted candidate becomes the canonical
// answer, discarded ones are removed from the log, kept ones remain as
// non-canonical entries. It fails without touching the log unless every
// candidate has an action and exactly one is adopt.
func (m *Manager) Confirm(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates, ok := m.open[sessionID]
	if !ok {
		return fmt.Errorf("no open comparison for session %s", sessionID)
	}

	adopts := 0
	for i, c := range candidates {
		switch c.Action {
		case ActionNone:
			return fmt.Errorf("candidate %d has no action", i)
		case ActionAdopt:
			adopts++
		}
	}
	if adopts != 1 {
		return fmt.Errorf("expected exactly one adopted candidate, got %d", adopts)
	}

	for _, c := range candidates {
		switch c.Action {
		case ActionAdopt:
			if err := m.log.MarkAdopted(c.MessageID); err != nil {
				return fmt.Errorf("adopt candidate: %w", err)
			}
		case ActionDiscard:
			if err := m.log.DeleteMessage(c.MessageID); err != nil {
				return fmt.Errorf("discard candidate: %w", err)
			}
		}
	}

	delete(m.open, sessionID)
	return nil
}

// Abandon drops an open comparison without touching the log.
func (m *Manager) Abandon(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, sessionID)
}

// Accept is the two-candidate fast path after a single retry: the original
// (the entry before the latest assistant message) is discarded and the
// retry stays as the turn's answer.
func (m *Manager) Accept(sessionID string) error {
	return m.log.DeleteSecondMostRecentAssistant(sessionID)
}

// Reject is the counterpart: the retry (the latest assistant message) is
// discarded and the original stays.
func (m *Manager) Reject(sessionID string) error {
	return m.log.DeleteMostRecentAssistant(sessionID)
}
