package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/vitisco/internal/quiz"
	"github.com/dukerupert/vitisco/internal/store"
)

const msgServerError = "Server error"

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// errorWriter turns errors into responses. Rule violations become 400s with
// their own message; anything else is logged and hidden behind a 500 unless
// the server runs in development mode.
type errorWriter struct {
	logger *slog.Logger
	dev    bool
}

func (e errorWriter) fail(w http.ResponseWriter, err error, op string) {
	switch {
	case store.IsRuleError(err):
		writeFail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, quiz.ErrSessionNotFound):
		writeFail(w, http.StatusNotFound, "Quiz session not found")
	case errors.Is(err, quiz.ErrWrongState):
		writeFail(w, http.StatusBadRequest, "Action not allowed right now")
	case errors.Is(err, quiz.ErrUnknownOption):
		writeFail(w, http.StatusBadRequest, "Unknown option")
	default:
		e.logger.Error(op, "error", err)
		body := envelope{Success: false, Message: msgServerError}
		if e.dev {
			body.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}
