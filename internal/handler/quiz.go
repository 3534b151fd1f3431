package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/lesson"
	"github.com/dukerupert/vitisco/internal/quiz"
)

type QuizHandler struct {
	errorWriter
	catalog *lesson.Catalog
	manager *quiz.Manager
}

func NewQuizHandler(c *lesson.Catalog, m *quiz.Manager, logger *slog.Logger, dev bool) *QuizHandler {
	return &QuizHandler{
		errorWriter: errorWriter{logger: logger, dev: dev},
		catalog:     c,
		manager:     m,
	}
}

func (h *QuizHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LessonID int `json:"lessonId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	q := h.catalog.Quiz(req.LessonID)
	if q == nil {
		writeFail(w, http.StatusNotFound, "Quiz not found")
		return
	}

	view, err := h.manager.Create(auth.UserID(r.Context()), q.LessonID, q.Title, q.Config(), q.Questions)
	if err != nil {
		h.fail(w, err, "create quiz session")
		return
	}
	writeData(w, http.StatusCreated, "", view)
}

func (h *QuizHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "get quiz session")(h.manager.Get(r.Context(), auth.UserID(r.Context()), r.PathValue("id")))
}

func (h *QuizHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "start quiz")(h.manager.Start(r.Context(), auth.UserID(r.Context()), r.PathValue("id")))
}

func (h *QuizHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OptionID int `json:"optionId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	h.respond(w, "answer quiz")(h.manager.Answer(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), req.OptionID))
}

func (h *QuizHandler) Exit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	// An empty body is an unconfirmed exit.
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeFail(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}
	h.respond(w, "exit quiz")(h.manager.Exit(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), req.Confirm))
}

func (h *QuizHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "retry quiz")(h.manager.Retry(r.Context(), auth.UserID(r.Context()), r.PathValue("id")))
}

func (h *QuizHandler) respond(w http.ResponseWriter, op string) func(quiz.View, error) {
	return func(v quiz.View, err error) {
		if err != nil {
			h.fail(w, err, op)
			return
		}
		writeData(w, http.StatusOK, "", v)
	}
}
