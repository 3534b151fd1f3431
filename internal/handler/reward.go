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

type RewardHandler struct {
	errorWriter
	rewardStore *store.RewardStore
	notifier    *Notifier
}

func NewRewardHandler(rs *store.RewardStore, notifier *Notifier, logger *slog.Logger, dev bool) *RewardHandler {
	return &RewardHandler{
		errorWriter: errorWriter{logger: logger, dev: dev},
		rewardStore: rs,
		notifier:    notifier,
	}
}

func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.rewardStore.List()
	if err != nil {
		h.fail(w, err, "list rewards")
		return
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}
	writeData(w, http.StatusOK, "", rewards)
}

func (h *RewardHandler) Mine(w http.ResponseWriter, r *http.Request) {
	h.writeUserRewards(w, auth.UserID(r.Context()))
}

func (h *RewardHandler) ForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "userId")
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	h.writeUserRewards(w, userID)
}

func (h *RewardHandler) writeUserRewards(w http.ResponseWriter, userID int64) {
	rewards, err := h.rewardStore.ListForUser(userID)
	if err != nil {
		h.fail(w, err, "list user rewards")
		return
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}
	writeData(w, http.StatusOK, "", rewards)
}

func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	reward, err := h.rewardStore.Create(req.Name, req.Description, req.ImageURL)
	if err != nil {
		h.fail(w, err, "create reward")
		return
	}

	h.notifier.Broadcast(websocket.NewMessage("reward", "created", reward.ID, reward))
	writeData(w, http.StatusCreated, "Reward created", reward)
}

func (h *RewardHandler) Award(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.UserID == 0 || req.RewardID == 0 {
		writeFail(w, http.StatusBadRequest, "userId and rewardId are required")
		return
	}

	reward, err := h.rewardStore.Award(req.UserID, req.RewardID)
	if err != nil {
		h.fail(w, err, "award reward")
		return
	}

	h.notifier.Notify(req.UserID, "reward", fmt.Sprintf("You received the %s reward", reward.Name))
	writeData(w, http.StatusOK, "Reward awarded successfully", reward)
}
