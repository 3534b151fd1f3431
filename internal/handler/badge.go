package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/model"
	"github.com/dukerupert/vitisco/internal/store"
	"github.com/dukerupert/vitisco/internal/websocket"
)

type BadgeHandler struct {
	errorWriter
	badgeStore *store.BadgeStore
	notifier   *Notifier
}

func NewBadgeHandler(bs *store.BadgeStore, notifier *Notifier, logger *slog.Logger, dev bool) *BadgeHandler {
	return &BadgeHandler{
		errorWriter: errorWriter{logger: logger, dev: dev},
		badgeStore:  bs,
		notifier:    notifier,
	}
}

// catalogRequest is the body for creating a badge or reward.
type catalogRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
}

// awardRequest is the body for awarding a badge or reward.
type awardRequest struct {
	UserID   int64 `json:"userId"`
	BadgeID  int64 `json:"badgeId"`
	RewardID int64 `json:"rewardId"`
}

func (h *BadgeHandler) List(w http.ResponseWriter, r *http.Request) {
	badges, err := h.badgeStore.List()
	if err != nil {
		h.fail(w, err, "list badges")
		return
	}
	if badges == nil {
		badges = []model.Badge{}
	}
	writeData(w, http.StatusOK, "", badges)
}

func (h *BadgeHandler) Mine(w http.ResponseWriter, r *http.Request) {
	h.writeUserBadges(w, auth.UserID(r.Context()))
}

func (h *BadgeHandler) ForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "userId")
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	h.writeUserBadges(w, userID)
}

func (h *BadgeHandler) writeUserBadges(w http.ResponseWriter, userID int64) {
	badges, err := h.badgeStore.ListForUser(userID)
	if err != nil {
		h.fail(w, err, "list user badges")
		return
	}
	if badges == nil {
		badges = []model.Badge{}
	}
	writeData(w, http.StatusOK, "", badges)
}

func (h *BadgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req catalogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeFail(w, http.StatusBadRequest, "Name is required")
		return
	}

	badge, err := h.badgeStore.Create(req.Name, req.Description, req.ImageURL)
	if err != nil {
		h.fail(w, err, "create badge")
		return
	}

	h.notifier.Broadcast(websocket.NewMessage("badge", "created", badge.ID, badge))
	writeData(w, http.StatusCreated, "Badge created", badge)
}

func (h *BadgeHandler) Award(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.UserID == 0 || req.BadgeID == 0 {
		writeFail(w, http.StatusBadRequest, "userId and badgeId are required")
		return
	}

	badge, err := h.badgeStore.Award(req.UserID, req.BadgeID)
	if err != nil {
		h.fail(w, err, "award badge")
		return
	}

	h.notifier.Notify(req.UserID, "badge", fmt.Sprintf("You earned the %s badge", badge.Name))
	writeData(w, http.StatusOK, "Badge awarded successfully", badge)
}
