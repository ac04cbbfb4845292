package server

import (
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pario-ai/tutor/pkg/models"
)

const (
	maxJSONBody    = 1 << 20
	excerptLength  = 300
	multipartInMem = 32 << 20
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token       string `json:"token"`
	Username    string `json:"username"`
	Institution string `json:"institution"`
}

type documentResponse struct {
	Name     string `json:"name"`
	Format   string `json:"format"`
	Chars    int    `json:"chars"`
	Previews int    `json:"previews"`
	Excerpt  string `json:"excerpt"`
}

type summaryRequest struct {
	Keyword string `json:"keyword"`
}

type summaryResponse struct {
	Reply  string `json:"reply"`
	Cached bool   `json:"cached"`
}

type chatRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.ctrl.ActiveSessions(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	sess, err := s.ctrl.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:       sess.Token,
		Username:    sess.User.Username,
		Institution: sess.User.Institution,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Logout(r.Context(), sessionToken(r)); err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.cfg.Documents.MaxUploadBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Documents.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartInMem); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	doc, err := s.ctrl.Upload(r.Context(), sessionToken(r), header.Filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(doc))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok, err := s.ctrl.Document(r.Context(), sessionToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no document uploaded")
		return
	}
	writeJSON(w, http.StatusOK, describe(doc))
}

// handlePreview serves preview n, counted from 0, as PNG.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "preview index must be a number")
		return
	}
	img, err := s.ctrl.Preview(r.Context(), sessionToken(r), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_ = png.Encode(w, img)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, cached, err := s.ctrl.Summary(r.Context(), sessionToken(r), req.Keyword)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Reply: reply, Cached: cached})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	turn, err := s.ctrl.Chat(r.Context(), sessionToken(r), req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.ctrl.History(r.Context(), sessionToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []models.ChatTurn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ctrl.Usage(r.Context(), sessionToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.ctrl.Budget(r.Context(), sessionToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleAdminUsage(w http.ResponseWriter, r *http.Request) {
	records, err := s.ctrl.AdminUsage(r.Context(), sessionToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// sessionToken reads the bearer token, falling back to the session cookie.
func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func describe(doc models.Document) documentResponse {
	runes := []rune(doc.Text)
	excerpt := runes
	if len(excerpt) > excerptLength {
		excerpt = excerpt[:excerptLength]
	}
	return documentResponse{
		Name:     doc.Name,
		Format:   doc.Format,
		Chars:    len(runes),
		Previews: len(doc.Previews),
		Excerpt:  string(excerpt),
	}
}
