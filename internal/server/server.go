// Package server exposes the HTTP API and the embedded GUI.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/unrcom/llamune-chat/internal/agent"
	"github.com/unrcom/llamune-chat/internal/candidate"
	"github.com/unrcom/llamune-chat/internal/config"
	"github.com/unrcom/llamune-chat/internal/store"
	"github.com/unrcom/llamune-chat/web"
)

// Server wires the store, the turn publisher and the candidate manager
// behind the HTTP API.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	publisher  *agent.Publisher
	candidates *candidate.Manager
	mux        *http.ServeMux

	// turnMu guards turnLocks; each session's lock keeps its message log
	// single-writer while a turn is in flight.
	turnMu    sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// New builds a server and registers its routes.
func New(cfg *config.Config, st *store.Store, pub *agent.Publisher, cands *candidate.Manager) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		publisher:  pub,
		candidates: cands,
		mux:        http.NewServeMux(),
		turnLocks:  make(map[string]*sync.Mutex),
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving the API on the configured address.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	slog.Info("HTTP server listening", "addr", addr)
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) routes() {
	// Admin-token routes: user management.
	s.mux.HandleFunc("POST /api/users", s.admin(s.handleCreateUser))
	s.mux.HandleFunc("GET /api/users", s.admin(s.handleListUsers))
	s.mux.HandleFunc("DELETE /api/users/{id}", s.admin(s.handleDeleteUser))

	// User-token routes.
	s.mux.HandleFunc("GET /api/me", s.user(s.handleMe))

	s.mux.HandleFunc("POST /api/folders", s.user(s.handleCreateFolder))
	s.mux.HandleFunc("GET /api/folders", s.user(s.handleListFolders))
	s.mux.HandleFunc("PATCH /api/folders/{id}", s.user(s.handleRenameFolder))
	s.mux.HandleFunc("DELETE /api/folders/{id}", s.user(s.handleDeleteFolder))

	s.mux.HandleFunc("POST /api/sessions", s.user(s.handleCreateSession))
	s.mux.HandleFunc("GET /api/sessions", s.user(s.handleListSessions))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.session(s.handleGetSession))
	s.mux.HandleFunc("PATCH /api/sessions/{id}", s.session(s.handleUpdateSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.session(s.handleDeleteSession))
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.session(s.handleListMessages))

	s.mux.HandleFunc("POST /api/templates", s.user(s.handleCreateTemplate))
	s.mux.HandleFunc("GET /api/templates", s.user(s.handleListTemplates))
	s.mux.HandleFunc("GET /api/templates/{id}", s.user(s.handleGetTemplate))
	s.mux.HandleFunc("DELETE /api/templates/{id}", s.user(s.handleDeleteTemplate))

	// Turn streaming.
	s.mux.HandleFunc("POST /api/sessions/{id}/chat", s.session(s.handleChat))
	s.mux.HandleFunc("POST /api/sessions/{id}/retry", s.session(s.handleRetry))
	s.mux.HandleFunc("POST /api/sessions/{id}/retry/accept", s.session(s.handleAccept))
	s.mux.HandleFunc("POST /api/sessions/{id}/retry/reject", s.session(s.handleReject))

	// Multi-candidate comparison.
	s.mux.HandleFunc("POST /api/sessions/{id}/candidates/begin", s.session(s.handleCandidatesBegin))
	s.mux.HandleFunc("GET /api/sessions/{id}/candidates", s.session(s.handleCandidatesList))
	s.mux.HandleFunc("POST /api/sessions/{id}/candidates/{index}/action", s.session(s.handleCandidateAction))
	s.mux.HandleFunc("POST /api/sessions/{id}/candidates/confirm", s.session(s.handleCandidatesConfirm))
	s.mux.HandleFunc("POST /api/sessions/{id}/candidates/abandon", s.session(s.handleCandidatesAbandon))

	// GUI.
	s.mux.Handle("/", http.FileServerFS(web.Assets))
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// admin guards user-management routes with the configured admin token.
func (s *Server) admin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.AdminToken == "" || bearerToken(r) != s.cfg.Server.AdminToken {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		h(w, r)
	}
}

type userHandler func(w http.ResponseWriter, r *http.Request, u *store.User)

// user resolves the bearer token to a user record.
func (s *Server) user(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		u, err := s.store.GetUserByToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		h(w, r, u)
	}
}

// lockTurn serializes turn processing for one session: concurrent chat or
// retry requests against the same log run one after another, never
// interleaved. Returns the unlock.
func (s *Server) lockTurn(sessionID string) func() {
	s.turnMu.Lock()
	mu, ok := s.turnLocks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.turnLocks[sessionID] = mu
	}
	s.turnMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session)

// session additionally loads the {id} session and enforces ownership.
// A session belonging to someone else is indistinguishable from a missing
// one.
func (s *Server) session(h sessionHandler) http.HandlerFunc {
	return s.user(func(w http.ResponseWriter, r *http.Request, u *store.User) {
		sess, err := s.store.GetSession(r.PathValue("id"))
		if err != nil || sess.UserID != u.ID {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h(w, r, u, sess)
	})
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	u, err := s.store.CreateUser(body.Name)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteUser(r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, u *store.User) {
	writeJSON(w, http.StatusOK, u)
}

// ---------------------------------------------------------------------------
// Folders
// ---------------------------------------------------------------------------

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request, u *store.User) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	f, err := s.store.CreateFolder(u.ID, body.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request, u *store.User) {
	folders, err := s.store.ListFolders(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request, u *store.User) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !s.ownsFolder(u, r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "folder not found")
		return
	}
	if err := s.store.RenameFolder(r.PathValue("id"), body.Name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request, u *store.User) {
	if !s.ownsFolder(u, r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "folder not found")
		return
	}
	if err := s.store.DeleteFolder(r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ownsFolder(u *store.User, folderID string) bool {
	folders, err := s.store.ListFolders(u.ID)
	if err != nil {
		return false
	}
	for _, f := range folders {
		if f.ID == folderID {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, u *store.User) {
	var body struct {
		Title         string `json:"title"`
		FolderID      string `json:"folder_id"`
		Model         string `json:"model"`
		TemplateID    string `json:"template_id"`
		WorkspaceRoot string `json:"workspace_root"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sess := &store.Session{
		UserID:        u.ID,
		FolderID:      body.FolderID,
		Title:         body.Title,
		Model:         body.Model,
		WorkspaceRoot: body.WorkspaceRoot,
	}
	if body.TemplateID != "" {
		tpl, err := s.store.GetTemplate(body.TemplateID)
		if err != nil || tpl.UserID != u.ID {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		if sess.Model == "" {
			sess.Model = tpl.Model
		}
	}
	created, err := s.store.CreateSession(sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, u *store.User) {
	sessions, err := s.store.ListSessions(u.ID, r.URL.Query().Get("folder_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	var body struct {
		Title         *string `json:"title"`
		FolderID      *string `json:"folder_id"`
		Model         *string `json:"model"`
		WorkspaceRoot *string `json:"workspace_root"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Title != nil {
		sess.Title = *body.Title
	}
	if body.FolderID != nil {
		sess.FolderID = *body.FolderID
	}
	if body.Model != nil {
		sess.Model = *body.Model
	}
	if body.WorkspaceRoot != nil {
		sess.WorkspaceRoot = *body.WorkspaceRoot
	}
	if err := s.store.UpdateSession(sess); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	s.candidates.Abandon(sess.ID)
	if err := s.store.DeleteSession(sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.turnMu.Lock()
	delete(s.turnLocks, sess.ID)
	s.turnMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, u *store.User, sess *store.Session) {
	messages, err := s.store.ListMessages(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request, u *store.User) {
	var body struct {
		Name         string  `json:"name"`
		Model        string  `json:"model"`
		SystemPrompt string  `json:"system_prompt"`
		Temperature  float64 `json:"temperature"`
	}
	if err := decodeBody(r, &body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	tpl, err := s.store.CreateTemplate(&store.Template{
		UserID:       u.ID,
		Name:         body.Name,
		Model:        body.Model,
		SystemPrompt: body.SystemPrompt,
		Temperature:  body.Temperature,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request, u *store.User) {
	templates, err := s.store.ListTemplates(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request, u *store.User) {
	tpl, err := s.store.GetTemplate(r.PathValue("id"))
	if err != nil || tpl.UserID != u.ID {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request, u *store.User) {
	tpl, err := s.store.GetTemplate(r.PathValue("id"))
	if err != nil || tpl.UserID != u.ID {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err := s.store.DeleteTemplate(tpl.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
