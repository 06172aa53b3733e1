package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/unrcom/llamune-chat/internal/agent"
	"github.com/unrcom/llamune-chat/internal/candidate"
	"github.com/unrcom/llamune-chat/internal/provider"
	"github.com/unrcom/llamune-chat/internal/store"
)

// codeUpstream marks in-stream error events caused by the model backend or
// the turn machinery, as opposed to pre-stream HTTP errors.
const codeUpstream = "upstream_error"

type chatBody struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

// handleChat runs one turn: the user message is committed, then the answer
// streams out as one event per frame, "data: {json}" lines ending with
// "data: [DONE]".
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	var body chatBody
	if err := decodeBody(r, &body); err != nil || body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	defer s.lockTurn(sess.ID)()

	if _, err := s.store.Append(sess.ID, &store.Message{
		Role:    provider.RoleUser,
		Content: body.Message,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess.Title == "" {
		sess.Title = agent.TitleFromPrompt(body.Message)
		_ = s.store.UpdateSession(sess)
	}

	log, err := s.store.ListMessages(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.streamTurn(w, r, sess, body.Model, agent.HistoryMessages(log), nil)
}

// handleRetry regenerates the latest answer. The previous answer stays in
// the log; accept/reject (or an open comparison) decides later which one
// survives.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	var body chatBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	defer s.lockTurn(sess.ID)()

	log, err := s.store.ListMessages(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	messages, err := agent.RetryMessages(log)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	// When a comparison is open the fresh answer joins it as a candidate.
	// Failures here cannot reach the client anymore; the stream already
	// started.
	onCommit := func(messageID, content, model string) {
		if _, err := s.candidates.List(sess.ID); err != nil {
			return
		}
		if err := s.candidates.AddRetry(sess.ID, candidate.Candidate{
			MessageID: messageID,
			Content:   content,
			Model:     model,
		}); err != nil {
			slog.Warn("Retry not tracked by comparison", "session", sess.ID, "error", err)
		}
	}
	s.streamTurn(w, r, sess, body.Model, messages, onCommit)
}

// streamTurn drives the publisher and writes the SSE event sequence.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, sess *store.Session, modelOverride string, messages []provider.Message, onCommit func(messageID, content, model string)) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	model := modelOverride
	if model == "" {
		model = sess.Model
	}
	req := &agent.TurnRequest{
		SessionID:     sess.ID,
		Model:         model,
		Temperature:   s.cfg.Model.Temperature,
		SystemPrompt:  s.cfg.Model.SystemPrompt,
		WorkspaceRoot: sess.WorkspaceRoot,
		Messages:      messages,
	}

	for ev := range s.publisher.Run(r.Context(), req) {
		if ev.Err != nil {
			sse.errorEvent(codeUpstream, ev.Err)
			return
		}
		if err := sse.event(ev); err != nil {
			return
		}
		if ev.Done {
			if onCommit != nil {
				onCommit(ev.MessageID, ev.Content, model)
			}
			sse.done()
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Retry fast path
// ---------------------------------------------------------------------------

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	if err := s.candidates.Accept(sess.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	if err := s.candidates.Reject(sess.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Multi-candidate comparison
// ---------------------------------------------------------------------------

// handleCandidatesBegin opens a comparison seeded with the session's latest
// answer.
func (s *Server) handleCandidatesBegin(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	log, err := s.store.ListMessages(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var original *store.Message
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == provider.RoleAssistant {
			original = &log[i]
			break
		}
	}
	if original == nil {
		writeError(w, http.StatusConflict, "no answer to compare against")
		return
	}
	if err := s.candidates.Begin(sess.ID, candidate.Candidate{
		MessageID: original.ID,
		Content:   original.Content,
		Model:     original.Model,
	}); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleCandidatesList(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	candidates, err := s.candidates.List(sess.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleCandidateAction(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid candidate index")
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.candidates.SetAction(sess.ID, index, candidate.Action(body.Action)); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCandidatesConfirm(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	if err := s.candidates.Confirm(sess.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCandidatesAbandon(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	s.candidates.Abandon(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}
