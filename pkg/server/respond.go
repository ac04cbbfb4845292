package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pario-ai/tutor/pkg/budget"
	"github.com/pario-ai/tutor/pkg/credentials"
	"github.com/pario-ai/tutor/pkg/extract"
	"github.com/pario-ai/tutor/pkg/registry"
	"github.com/pario-ai/tutor/pkg/tutor"
)

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	var body errorBody
	body.Error.Message = message
	body.Error.Type = "tutor_error"
	body.Error.Code = code
	writeJSON(w, code, body)
}

// errorStatus maps controller errors to a status and a client-safe message.
var errorStatus = []struct {
	err     error
	code    int
	message string
}{
	{credentials.ErrInvalidCredentials, http.StatusUnauthorized, "invalid username or password"},
	{registry.ErrAlreadyActive, http.StatusConflict, "this account is already logged in elsewhere"},
	{tutor.ErrNotLoggedIn, http.StatusUnauthorized, "not logged in"},
	{tutor.ErrSessionExpired, http.StatusUnauthorized, "session expired, please log in again"},
	{tutor.ErrForbidden, http.StatusForbidden, "forbidden"},
	{tutor.ErrEmptyInput, http.StatusBadRequest, "input must not be empty"},
	{tutor.ErrNoPreview, http.StatusNotFound, "no such preview"},
	{extract.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, "unsupported format: accepted formats are " + strings.Join(extract.Formats, ", ")},
	{extract.ErrExtractionFailed, http.StatusUnprocessableEntity, "the document could not be read"},
	{budget.ErrBudgetExceeded, http.StatusTooManyRequests, "token budget exceeded"},
	{tutor.ErrModelCallFailed, http.StatusBadGateway, "the assistant is unavailable, please retry"},
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeJSONError(w, e.code, e.message)
			return
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
