package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/model"
	"github.com/dukerupert/vitisco/internal/store"
)

const (
	xpHistoryLimit    = 10
	notificationLimit = 50
)

type UserHandler struct {
	errorWriter
	userStore         *store.UserStore
	followStore       *store.FollowStore
	badgeStore        *store.BadgeStore
	rewardStore       *store.RewardStore
	progressStore     *store.ProgressStore
	notificationStore *store.NotificationStore
	notifier          *Notifier
}

func NewUserHandler(
	us *store.UserStore,
	fs *store.FollowStore,
	bs *store.BadgeStore,
	rs *store.RewardStore,
	ps *store.ProgressStore,
	ns *store.NotificationStore,
	notifier *Notifier,
	logger *slog.Logger,
	dev bool,
) *UserHandler {
	return &UserHandler{
		errorWriter:       errorWriter{logger: logger, dev: dev},
		userStore:         us,
		followStore:       fs,
		badgeStore:        bs,
		rewardStore:       rs,
		progressStore:     ps,
		notificationStore: ns,
		notifier:          notifier,
	}
}

// Handle builds the public handle shown on a profile: "@", the lowercased
// name with whitespace removed, then the user id.
func Handle(name string, id int64) string {
	var b strings.Builder
	b.WriteByte('@')
	for _, r := range strings.ToLower(name) {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	b.WriteString(strconv.FormatInt(id, 10))
	return b.String()
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
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

	stats, err := h.userStore.Stats(userID)
	if err != nil {
		h.fail(w, err, "user stats")
		return
	}
	badges, err := h.badgeStore.ListForUser(userID)
	if err != nil {
		h.fail(w, err, "list user badges")
		return
	}
	rewards, err := h.rewardStore.ListForUser(userID)
	if err != nil {
		h.fail(w, err, "list user rewards")
		return
	}
	if badges == nil {
		badges = []model.Badge{}
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}

	writeData(w, http.StatusOK, "", model.Profile{
		User:          *user,
		Handle:        Handle(user.Name, user.ID),
		Followers:     stats.Followers,
		Following:     stats.Following,
		Notifications: stats.Notifications,
		Badges:        badges,
		Rewards:       rewards,
	})
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req model.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.userStore.UpdateProfile(auth.UserID(r.Context()), req)
	if err != nil {
		h.fail(w, err, "update profile")
		return
	}
	writeData(w, http.StatusOK, "Profile updated successfully", user)
}

func (h *UserHandler) XP(w http.ResponseWriter, r *http.Request) {
	summary, err := h.progressStore.Summary(auth.UserID(r.Context()), xpHistoryLimit)
	if err != nil {
		h.fail(w, err, "xp summary")
		return
	}
	if summary == nil {
		writeFail(w, http.StatusNotFound, store.ErrUserNotFound.Error())
		return
	}
	writeData(w, http.StatusOK, "", summary)
}

func (h *UserHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notificationStore.List(auth.UserID(r.Context()), notificationLimit)
	if err != nil {
		h.fail(w, err, "list notifications")
		return
	}
	if notes == nil {
		notes = []model.Notification{}
	}
	writeData(w, http.StatusOK, "", notes)
}

func (h *UserHandler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notificationStore.MarkAllRead(auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err, "mark notifications read")
		return
	}
	writeData(w, http.StatusOK, "Notifications marked as read", map[string]int64{"updated": n})
}

func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	targetID, err := parseIDParam(r, "userId")
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	userID := auth.UserID(r.Context())

	if targetID != userID {
		target, err := h.userStore.GetByID(targetID)
		if err != nil {
			h.fail(w, err, "get follow target")
			return
		}
		if target == nil {
			writeFail(w, http.StatusNotFound, store.ErrUserNotFound.Error())
			return
		}
	}

	if err := h.followStore.Follow(userID, targetID); err != nil {
		h.fail(w, err, "follow user")
		return
	}

	if follower, err := h.userStore.GetByID(userID); err == nil && follower != nil {
		h.notifier.Notify(targetID, "follow", fmt.Sprintf("%s started following you", follower.Name))
	}

	writeData(w, http.StatusOK, "User followed successfully", nil)
}

func (h *UserHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	targetID, err := parseIDParam(r, "userId")
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	if err := h.followStore.Unfollow(auth.UserID(r.Context()), targetID); err != nil {
		h.fail(w, err, "unfollow user")
		return
	}
	writeData(w, http.StatusOK, "User unfollowed successfully", nil)
}

func (h *UserHandler) Followers(w http.ResponseWriter, r *http.Request) {
	users, err := h.followStore.Followers(auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err, "list followers")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeData(w, http.StatusOK, "", users)
}

func (h *UserHandler) Following(w http.ResponseWriter, r *http.Request) {
	users, err := h.followStore.Following(auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err, "list following")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeData(w, http.StatusOK, "", users)
}

// AdjustPoints lets an administrator credit or debit a user's spendable
// points.
func (h *UserHandler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	targetID, err := parseIDParam(r, "userId")
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req struct {
		Amount int    `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Amount == 0 {
		writeFail(w, http.StatusBadRequest, "Amount must not be zero")
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "Points adjusted by admin"
	}

	user, err := h.userStore.AdjustPoints(r.Context(), targetID, req.Amount, req.Reason)
	if err != nil {
		h.fail(w, err, "adjust points")
		return
	}

	h.logger.Info("points adjusted", "user_id", targetID, "amount", req.Amount, "by", auth.UserID(r.Context()))
	h.notifier.Notify(targetID, "points", fmt.Sprintf("Your points balance changed by %+d", req.Amount))
	h.notifier.PointsChanged(targetID, user.Points, user.XPPoints)

	writeData(w, http.StatusOK, "Points updated", map[string]int{"points": user.Points})
}
