package model

import "time"

type Voucher struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Discount        int       `json:"discount"`
	PointsRequired  int       `json:"pointsRequired"`
	MinMembershipID int64     `json:"minMembershipId"`
	ExpiryDate      time.Time `json:"expiryDate"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Available reports whether the voucher can be redeemed at now.
func (v Voucher) Available(now time.Time) bool {
	return v.IsActive && v.ExpiryDate.After(now)
}

// UserVoucher is a single redemption of a voucher by a user.
type UserVoucher struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	Voucher    Voucher   `json:"voucher"`
	Code       string    `json:"code"`
	RedeemedAt time.Time `json:"redeemedAt"`
	IsUsed     bool      `json:"isUsed"`
}

// Redemption is the outcome of a successful voucher redemption.
type Redemption struct {
	UserVoucherID   int64  `json:"userVoucherId"`
	VoucherID       int64  `json:"voucherId"`
	Code            string `json:"code"`
	PointsDeducted  int    `json:"pointsDeducted"`
	RemainingPoints int    `json:"remainingPoints"`
	VoucherTitle    string `json:"voucherTitle"`
}
