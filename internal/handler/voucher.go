package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/model"
	"github.com/dukerupert/vitisco/internal/store"
	"github.com/dukerupert/vitisco/internal/websocket"
)

type VoucherHandler struct {
	errorWriter
	voucherStore *store.VoucherStore
	userStore    *store.UserStore
	notifier     *Notifier
}

func NewVoucherHandler(vs *store.VoucherStore, us *store.UserStore, notifier *Notifier, logger *slog.Logger, dev bool) *VoucherHandler {
	return &VoucherHandler{
		errorWriter:  errorWriter{logger: logger, dev: dev},
		voucherStore: vs,
		userStore:    us,
		notifier:     notifier,
	}
}

// redeemResult is the data returned by a successful redemption.
type redeemResult struct {
	PointsDeducted  int    `json:"pointsDeducted"`
	Code            string `json:"code"`
	RemainingPoints int    `json:"remainingPoints"`
}

func (h *VoucherHandler) List(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.voucherStore.ListActive()
	if err != nil {
		h.fail(w, err, "list vouchers")
		return
	}
	if vouchers == nil {
		vouchers = []model.Voucher{}
	}
	writeData(w, http.StatusOK, "", vouchers)
}

func (h *VoucherHandler) Available(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err, "get user")
		return
	}
	if user == nil {
		writeFail(w, http.StatusNotFound, store.ErrUserNotFound.Error())
		return
	}

	vouchers, err := h.voucherStore.ListAvailable(user.MembershipID)
	if err != nil {
		h.fail(w, err, "list available vouchers")
		return
	}
	if vouchers == nil {
		vouchers = []model.Voucher{}
	}
	writeData(w, http.StatusOK, "", vouchers)
}

func (h *VoucherHandler) Redeemed(w http.ResponseWriter, r *http.Request) {
	redeemed, err := h.voucherStore.ListRedeemed(auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err, "list redeemed vouchers")
		return
	}
	if redeemed == nil {
		redeemed = []model.UserVoucher{}
	}
	writeData(w, http.StatusOK, "", redeemed)
}

type voucherRequest struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Discount        int       `json:"discount"`
	PointsRequired  int       `json:"pointsRequired"`
	MinMembershipID int64     `json:"minMembershipId"`
	ExpiryDate      time.Time `json:"expiryDate"`
	IsActive        *bool     `json:"isActive"`
}

func (h *VoucherHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.Title == "":
		writeFail(w, http.StatusBadRequest, "Title is required")
		return
	case req.PointsRequired < 0:
		writeFail(w, http.StatusBadRequest, "pointsRequired must be >= 0")
		return
	case req.ExpiryDate.IsZero():
		writeFail(w, http.StatusBadRequest, "expiryDate is required")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	voucher, err := h.voucherStore.Create(model.Voucher{
		Title:           req.Title,
		Description:     req.Description,
		Discount:        req.Discount,
		PointsRequired:  req.PointsRequired,
		MinMembershipID: req.MinMembershipID,
		ExpiryDate:      req.ExpiryDate,
		IsActive:        active,
	})
	if err != nil {
		h.fail(w, err, "create voucher")
		return
	}

	h.notifier.Broadcast(websocket.NewMessage("voucher", "created", voucher.ID, voucher))
	writeData(w, http.StatusCreated, "Voucher created", voucher)
}

func (h *VoucherHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VoucherID int64 `json:"voucherId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.VoucherID <= 0 {
		writeFail(w, http.StatusBadRequest, "voucherId is required")
		return
	}
	userID := auth.UserID(r.Context())

	red, err := h.voucherStore.Redeem(r.Context(), userID, req.VoucherID)
	if err != nil {
		h.fail(w, err, "redeem voucher")
		return
	}

	h.logger.Info("voucher redeemed", "user_id", userID, "voucher_id", red.VoucherID, "points", red.PointsDeducted)
	h.notifier.Notify(userID, "voucher", fmt.Sprintf("You redeemed %s. Your code is %s", red.VoucherTitle, red.Code))
	if user, err := h.userStore.GetByID(userID); err == nil && user != nil {
		h.notifier.PointsChanged(userID, user.Points, user.XPPoints)
	}

	writeData(w, http.StatusOK, "Voucher redeemed successfully", redeemResult{
		PointsDeducted:  red.PointsDeducted,
		Code:            red.Code,
		RemainingPoints: red.RemainingPoints,
	})
}

func (h *VoucherHandler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid id")
		return
	}

	if err := h.voucherStore.MarkUsed(auth.UserID(r.Context()), id); err != nil {
		h.fail(w, err, "mark voucher used")
		return
	}
	writeData(w, http.StatusOK, "Voucher marked as used", nil)
}
