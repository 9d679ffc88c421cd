package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lumina/internal/app"
	"lumina/internal/session"
	"lumina/internal/util"
	"lumina/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Sessions       *session.Manager
	MaxUploadBytes int64
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	sessions       *session.Manager
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = app.MaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		sessions:       cfg.Sessions,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("lumina", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/session/anonymous", s.handleAnonymousSession)
	s.mux.HandleFunc("/session/token", s.handleTokenSession)
	s.mux.Handle("/session/logout", s.withUser(s.handleLogout))

	s.mux.Handle("/books", s.withUser(s.handleBooks))
	s.mux.Handle("/books/watch", s.withUser(s.handleWatch))
	s.mux.Handle("/books/", s.withUser(s.handleBookByID))
	s.mux.Handle("/uploads/", s.withUser(s.handleUploadStatus))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := requestToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.sessions.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) handleAnonymousSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	userID, token, err := s.sessions.Anonymous()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"userId": userID,
		"token":  token,
	})
}

func (s *Server) handleTokenSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	userID, token, err := s.sessions.ExchangeCustomToken(req.Token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"userId": userID,
		"token":  token,
	})
}

// handleLogout revokes the current session and immediately opens a fresh
// one, so the caller is never left without a session. A custom token in the
// body selects the identity of the replacement session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		CustomToken string `json:"customToken"`
	}
	_ = decodeJSON(r, &req)

	token, _ := requestToken(r)
	if err := s.sessions.Logout(token); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var (
		userID   string
		newToken string
		err      error
	)
	if req.CustomToken != "" {
		userID, newToken, err = s.sessions.ExchangeCustomToken(req.CustomToken)
	} else {
		userID, newToken, err = s.sessions.Anonymous()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"userId": userID,
		"token":  newToken,
	})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadBook(w, r, userID)
	case http.MethodGet:
		s.handleListBooks(w, r, userID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request, userID string) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	jobID, err := s.app.StartUpload(r.Context(), userID, header.Filename, contentType, header.Size, file)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/uploads/")
	if jobID == "" || strings.Contains(jobID, "/") {
		notFound(w, "not found")
		return
	}
	job, ok := s.app.UploadStatus(userID, jobID)
	if !ok {
		notFound(w, "upload not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, userID string) {
	books, err := s.app.ListBooks(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

// handleBookByID dispatches /books/{id} and its sub-resources.
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetBook(w, r, userID, id)
		case http.MethodDelete:
			s.handleDeleteBook(w, r, userID, id)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "notes":
		s.requireMethod(w, r, http.MethodPut, func() { s.handleSaveNotes(w, r, userID, id) })
	case "reading-state":
		s.requireMethod(w, r, http.MethodPut, func() { s.handleSaveReadingState(w, r, userID, id) })
	case "preview-page":
		s.requireMethod(w, r, http.MethodPut, func() { s.handleSavePreviewPage(w, r, userID, id) })
	case "reminder":
		s.requireMethod(w, r, http.MethodPut, func() { s.handleSaveReminder(w, r, userID, id) })
	case "citation":
		s.requireMethod(w, r, http.MethodPut, func() { s.handleSaveCitation(w, r, userID, id) })
	case "reading-log/toggle":
		s.requireMethod(w, r, http.MethodPost, func() { s.handleToggleReadingLog(w, r, userID, id) })
	case "chapters/summary":
		switch r.Method {
		case http.MethodPost:
			s.handleChapterSummary(w, r, userID, id)
		case http.MethodPut:
			s.handleSaveChapterSummary(w, r, userID, id)
		default:
			methodNotAllowed(w)
		}
	default:
		notFound(w, "not found")
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string, next func()) {
	if r.Method != method {
		methodNotAllowed(w)
		return
	}
	next()
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request, userID, id string) {
	rec, err := s.app.GetBook(r.Context(), userID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, userID, id string) {
	if err := s.app.DeleteBook(r.Context(), userID, id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSaveNotes(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req struct {
		Notes []domain.Note `json:"notasImportantes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SaveNotes(r.Context(), userID, id, req.Notes); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleSaveReadingState(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req struct {
		Page int     `json:"lastReadPageModal"`
		Zoom float64 `json:"lastReadZoomModal"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SaveReadingState(r.Context(), userID, id, req.Page, req.Zoom); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleSavePreviewPage(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req struct {
		Page int `json:"lastReadPagePreview"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SavePreviewPage(r.Context(), userID, id, req.Page); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleSaveReminder(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req struct {
		ReminderDate *time.Time `json:"reminderDate"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SaveReminder(r.Context(), userID, id, req.ReminderDate); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleSaveCitation(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req struct {
		Citation string `json:"referenciasAPA"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SaveCitation(r.Context(), userID, id, req.Citation); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleToggleReadingLog(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req struct {
		Day string `json:"day"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	log, err := s.app.ToggleReadingLog(r.Context(), userID, id, req.Day)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readingLog": log})
}

func (s *Server) handleChapterSummary(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req struct {
		ChapterTitle string `json:"chapterTitle"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	summary, err := s.app.GetChapterSummary(r.Context(), userID, id, req.ChapterTitle)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSaveChapterSummary(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req struct {
		ChapterTitle string `json:"chapterTitle"`
		Summary      string `json:"summary"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SaveChapterSummary(r.Context(), userID, id, req.ChapterTitle, req.Summary); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, app.ErrNotPDF):
		writeError(w, http.StatusBadRequest, "unsupported file type")
	case errors.Is(err, app.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, app.ErrUploadInFlight):
		writeError(w, http.StatusConflict, "upload already in progress")
	case errors.Is(err, app.ErrChapterInFlight):
		writeError(w, http.StatusConflict, "chapter summary already in progress")
	case errors.Is(err, app.ErrEmptyDay), errors.Is(err, app.ErrEmptyChapter), errors.Is(err, app.ErrEmptyCitation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrMissingDocument):
		writeError(w, http.StatusUnprocessableEntity, "document text not available")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "upload not found":
		return "UPLOAD_NOT_FOUND"
	case message == "file too large":
		return "BOOK_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"):
		return "BOOK_FILE_REQUIRED"
	case message == "unsupported file type":
		return "BOOK_UNSUPPORTED_FILE_TYPE"
	case message == "upload already in progress":
		return "UPLOAD_IN_FLIGHT"
	case message == "chapter summary already in progress":
		return "CHAPTER_SUMMARY_IN_FLIGHT"
	case message == "document text not available":
		return "BOOK_TEXT_UNAVAILABLE"
	case message == "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "REQUEST_INVALID_BODY"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "BOOK_NOT_FOUND"
	case http.StatusConflict:
		return "UPLOAD_IN_FLIGHT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

// requestToken resolves the session token from the Authorization header or,
// failing that, the token query parameter. SSE via EventSource cannot set
// headers, so the query form is accepted everywhere a token is.
func requestToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r); ok {
		return token, true
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	return token, token != ""
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
