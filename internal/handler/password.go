package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/email"
	"github.com/dukerupert/vitisco/internal/store"
)

const (
	msgResetRequested  = "If your email is registered, you will receive a reset code"
	msgInvalidCode     = "Invalid or expired OTP"
	msgTooManyAttempts = "Too many incorrect attempts. Please request a new code."
	msgInvalidReset    = "Invalid or expired reset token"
	minPasswordLength  = 8
)

// PasswordHandler runs the emailed-code password reset flow: request a
// code, exchange it for a reset token, then set a new password.
type PasswordHandler struct {
	errorWriter
	userStore  *store.UserStore
	resetStore *store.PasswordResetStore
	sender     email.Sender
}

func NewPasswordHandler(us *store.UserStore, rs *store.PasswordResetStore, sender email.Sender, logger *slog.Logger, dev bool) *PasswordHandler {
	return &PasswordHandler{
		errorWriter: errorWriter{logger: logger, dev: dev},
		userStore:   us,
		resetStore:  rs,
		sender:      sender,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (h *PasswordHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	addr := normalizeEmail(req.Email)
	if addr == "" || !strings.Contains(addr, "@") {
		writeFail(w, http.StatusBadRequest, "Valid email is required")
		return
	}

	user, err := h.userStore.GetByEmail(addr)
	if err != nil {
		h.fail(w, err, "reset lookup")
		return
	}
	// Same answer either way so the endpoint cannot enumerate accounts.
	if user == nil {
		writeData(w, http.StatusOK, msgResetRequested, nil)
		return
	}

	pr, err := h.resetStore.Create(addr)
	if err != nil {
		h.fail(w, err, "create reset code")
		return
	}
	if err := h.sender.SendResetCode(r.Context(), addr, pr.Code); err != nil {
		h.fail(w, err, "send reset code")
		return
	}

	h.logger.Info("reset code issued", "user_id", user.ID)
	writeData(w, http.StatusOK, msgResetRequested, nil)
}

func (h *PasswordHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	addr := normalizeEmail(req.Email)
	code := strings.TrimSpace(req.OTP)
	if addr == "" || code == "" {
		writeFail(w, http.StatusBadRequest, "Email and code are required")
		return
	}

	pending, err := h.resetStore.PendingCode(addr)
	if err != nil {
		h.fail(w, err, "reset code lookup")
		return
	}
	if pending == nil {
		writeFail(w, http.StatusBadRequest, msgInvalidCode)
		return
	}

	if pending.Attempts >= store.MaxResetAttempts {
		h.burn(pending.ID)
		writeFail(w, http.StatusBadRequest, msgTooManyAttempts)
		return
	}

	if subtle.ConstantTimeCompare([]byte(pending.Code), []byte(code)) != 1 {
		attempts, err := h.resetStore.IncrementAttempts(pending.ID)
		if err != nil {
			h.logger.Error("increment attempts", "error", err)
		}
		if attempts >= store.MaxResetAttempts {
			h.burn(pending.ID)
			writeFail(w, http.StatusBadRequest, msgTooManyAttempts)
			return
		}
		writeFail(w, http.StatusBadRequest, msgInvalidCode)
		return
	}

	token, err := h.resetStore.Verify(pending.ID)
	if err != nil {
		h.fail(w, err, "verify reset code")
		return
	}
	writeData(w, http.StatusOK, "OTP verified successfully", map[string]string{"resetToken": token})
}

func (h *PasswordHandler) burn(id int64) {
	if _, err := h.resetStore.MarkUsed(id); err != nil {
		h.logger.Error("mark reset used", "error", err)
	}
}

func (h *PasswordHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		ResetToken string `json:"resetToken"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeFail(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	addr := normalizeEmail(req.Email)

	pr, err := h.resetStore.ByToken(addr, strings.TrimSpace(req.ResetToken))
	if err != nil {
		h.fail(w, err, "reset token lookup")
		return
	}
	if pr == nil {
		writeFail(w, http.StatusBadRequest, msgInvalidReset)
		return
	}
	user, err := h.userStore.GetByEmail(addr)
	if err != nil {
		h.fail(w, err, "reset user lookup")
		return
	}
	if user == nil {
		writeFail(w, http.StatusBadRequest, msgInvalidReset)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(w, err, "hash password")
		return
	}
	// Consume the token before changing the password so that concurrent
	// requests with the same token cannot both succeed.
	claimed, err := h.resetStore.MarkUsed(pr.ID)
	if err != nil {
		h.fail(w, err, "mark reset used")
		return
	}
	if !claimed {
		writeFail(w, http.StatusBadRequest, msgInvalidReset)
		return
	}
	if err := h.userStore.SetPassword(user.ID, hash); err != nil {
		h.fail(w, err, "set password")
		return
	}

	h.logger.Info("password reset", "user_id", user.ID)
	writeData(w, http.StatusOK, "Password has been reset successfully", nil)
}
