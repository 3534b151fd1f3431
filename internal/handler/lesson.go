package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/lesson"
	"github.com/dukerupert/vitisco/internal/store"
)

type LessonHandler struct {
	errorWriter
	catalog       *lesson.Catalog
	userStore     *store.UserStore
	progressStore *store.ProgressStore
	notifier      *Notifier
}

func NewLessonHandler(c *lesson.Catalog, us *store.UserStore, ps *store.ProgressStore, notifier *Notifier, logger *slog.Logger, dev bool) *LessonHandler {
	return &LessonHandler{
		errorWriter:   errorWriter{logger: logger, dev: dev},
		catalog:       c,
		userStore:     us,
		progressStore: ps,
		notifier:      notifier,
	}
}

// lessonView is a catalog lesson annotated with the caller's progress.
type lessonView struct {
	lesson.Lesson
	Completed bool `json:"completed"`
	Locked    bool `json:"locked"`
}

func (h *LessonHandler) Languages(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "", h.catalog.Languages())
}

func (h *LessonHandler) List(w http.ResponseWriter, r *http.Request) {
	var f lesson.Filter
	f.Language = r.URL.Query().Get("language")
	if lv := r.URL.Query().Get("level"); lv != "" {
		n, err := strconv.Atoi(lv)
		if err != nil || n < 1 {
			writeFail(w, http.StatusBadRequest, "Invalid level")
			return
		}
		f.Level = n
	}

	userID := auth.UserID(r.Context())
	user, err := h.userStore.GetByID(userID)
	if err != nil {
		h.fail(w, err, "get user")
		return
	}
	if user == nil {
		writeFail(w, http.StatusNotFound, store.ErrUserNotFound.Error())
		return
	}
	done, err := h.progressStore.CompletedLessons(userID)
	if err != nil {
		h.fail(w, err, "list completions")
		return
	}

	lessons := h.catalog.Lessons(f)
	out := make([]lessonView, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, lessonView{
			Lesson:    l,
			Completed: done[l.ID],
			Locked:    l.Level > user.Level,
		})
	}
	writeData(w, http.StatusOK, "", out)
}

func (h *LessonHandler) lessonFromPath(w http.ResponseWriter, r *http.Request) (*lesson.Lesson, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid lesson id")
		return nil, false
	}
	l := h.catalog.Lesson(id)
	if l == nil {
		writeFail(w, http.StatusNotFound, "Lesson not found")
		return nil, false
	}
	return l, true
}

func (h *LessonHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lessonFromPath(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, "", l)
}

func (h *LessonHandler) Quiz(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lessonFromPath(w, r)
	if !ok {
		return
	}
	q := h.catalog.Quiz(l.ID)
	if q == nil {
		writeFail(w, http.StatusNotFound, "Quiz not found")
		return
	}
	writeData(w, http.StatusOK, "", q.Public())
}

func (h *LessonHandler) Complete(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lessonFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Score int `json:"score"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Score < 0 || req.Score > 100 {
		writeFail(w, http.StatusBadRequest, "Score must be between 0 and 100")
		return
	}
	userID := auth.UserID(r.Context())

	res, err := h.progressStore.CompleteLesson(r.Context(), userID, store.LessonRef{
		ID:       l.ID,
		Title:    l.Title,
		Level:    l.Level,
		XPReward: l.XPReward,
	}, req.Score)
	if err != nil {
		h.fail(w, err, "complete lesson")
		return
	}

	if res.XPEarned > 0 {
		h.notifier.Notify(userID, "xp", fmt.Sprintf("You earned %d XP for completing %s", res.XPEarned, l.Title))
		if user, err := h.userStore.GetByID(userID); err == nil && user != nil {
			h.notifier.PointsChanged(userID, user.Points, user.XPPoints)
		}
	}
	if res.LeveledUp {
		h.notifier.Notify(userID, "level", fmt.Sprintf("Level %d unlocked", res.UnlockedLevel))
	}

	writeData(w, http.StatusOK, "Lesson completed", res)
}
