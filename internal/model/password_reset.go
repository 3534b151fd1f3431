package model

import "time"

// PasswordReset is an emailed one-time code and, once the code is
// verified, the token that authorises setting a new password.
type PasswordReset struct {
	ID         int64
	Email      string
	Code       string
	ResetToken string
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	UsedAt     *time.Time
	Attempts   int
	CreatedAt  time.Time
}
