package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/model"
	"github.com/dukerupert/vitisco/internal/store"
)

const msgBadCredentials = "Invalid email or password"

type AuthHandler struct {
	errorWriter
	userStore *store.UserStore
	tokens    *auth.TokenIssuer
}

func NewAuthHandler(us *store.UserStore, tokens *auth.TokenIssuer, logger *slog.Logger, dev bool) *AuthHandler {
	return &AuthHandler{
		errorWriter: errorWriter{logger: logger, dev: dev},
		userStore:   us,
		tokens:      tokens,
	}
}

// sessionUser is the user returned by register and login.
type sessionUser struct {
	model.User
	model.UserStats
}

type sessionData struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      sessionUser `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Name, email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(w, err, "hash password")
		return
	}

	user, err := h.userStore.Create(req.Name, req.Email, hash)
	if err != nil {
		h.fail(w, err, "create user")
		return
	}

	h.logger.Info("user registered", "user_id", user.ID)
	h.writeSession(w, http.StatusCreated, "User registered successfully", user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.fail(w, err, "login lookup")
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeFail(w, http.StatusBadRequest, msgBadCredentials)
		return
	}

	h.writeSession(w, http.StatusOK, "Login successful", user)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, message string, user *model.User) {
	stats, err := h.userStore.Stats(user.ID)
	if err != nil {
		h.fail(w, err, "user stats")
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		h.fail(w, err, "issue token")
		return
	}

	writeData(w, status, message, sessionData{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		User:      sessionUser{User: *user, UserStats: stats},
	})
}
