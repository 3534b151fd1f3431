package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/dukerupert/vitisco/internal/model"
)

const (
	ResetCodeTTL     = 10 * time.Minute
	ResetTokenTTL    = time.Hour
	MaxResetAttempts = 5
)

type PasswordResetStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPasswordResetStore(db *sql.DB) *PasswordResetStore {
	return &PasswordResetStore{db: db, now: time.Now}
}

// SetClock replaces the clock used for expiry.
func (s *PasswordResetStore) SetClock(now func() time.Time) {
	s.now = now
}

func scanPasswordReset(scanner interface{ Scan(...any) error }) (*model.PasswordReset, error) {
	var pr model.PasswordReset
	var token sql.NullString
	var verifiedAt, usedAt sql.NullTime

	err := scanner.Scan(
		&pr.ID, &pr.Email, &pr.Code, &token, &pr.ExpiresAt,
		&verifiedAt, &usedAt, &pr.Attempts, &pr.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	pr.ResetToken = token.String
	if verifiedAt.Valid {
		pr.VerifiedAt = &verifiedAt.Time
	}
	if usedAt.Valid {
		pr.UsedAt = &usedAt.Time
	}
	return &pr, nil
}

const passwordResetCols = `id, email, code, reset_token, expires_at, verified_at, used_at, attempts, created_at`

// generateResetCode returns a 6-digit numeric code (100000–999999).
func generateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func generateResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create issues a new code for email. Pending codes and tokens for the
// same email stop working.
func (s *PasswordResetStore) Create(email string) (*model.PasswordReset, error) {
	now := s.now().UTC()
	_, err := s.db.Exec(
		`UPDATE password_resets SET used_at = ? WHERE email = ? AND used_at IS NULL`,
		now, email,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous codes: %w", err)
	}

	code, err := generateResetCode()
	if err != nil {
		return nil, err
	}

	result, err := s.db.Exec(
		`INSERT INTO password_resets (email, code, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		email, code, now.Add(ResetCodeTTL), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert password reset: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+passwordResetCols+` FROM password_resets WHERE id = ?`, id)
	return scanPasswordReset(row)
}

// PendingCode returns the latest unverified, unused and unexpired code for
// email, or nil.
func (s *PasswordResetStore) PendingCode(email string) (*model.PasswordReset, error) {
	row := s.db.QueryRow(
		`SELECT `+passwordResetCols+` FROM password_resets
		WHERE email = ? AND used_at IS NULL AND verified_at IS NULL
		ORDER BY id DESC LIMIT 1`,
		email,
	)
	return s.live(row, "get pending reset code")
}

// ByToken returns the verified, unused and unexpired reset matching
// email and token, or nil.
func (s *PasswordResetStore) ByToken(email, token string) (*model.PasswordReset, error) {
	if token == "" {
		return nil, nil
	}
	row := s.db.QueryRow(
		`SELECT `+passwordResetCols+` FROM password_resets
		WHERE email = ? AND reset_token = ? AND used_at IS NULL AND verified_at IS NOT NULL
		ORDER BY id DESC LIMIT 1`,
		email, token,
	)
	return s.live(row, "get reset by token")
}

func (s *PasswordResetStore) live(row *sql.Row, op string) (*model.PasswordReset, error) {
	pr, err := scanPasswordReset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !pr.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return pr, nil
}

// IncrementAttempts increments the attempt count and returns the new value.
func (s *PasswordResetStore) IncrementAttempts(id int64) (int, error) {
	_, err := s.db.Exec(`UPDATE password_resets SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	var attempts int
	err = s.db.QueryRow(`SELECT attempts FROM password_resets WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

// Verify exchanges a matched code for a reset token valid for ResetTokenTTL.
func (s *PasswordResetStore) Verify(id int64) (string, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	_, err = s.db.Exec(
		`UPDATE password_resets SET reset_token = ?, verified_at = ?, expires_at = ? WHERE id = ?`,
		token, now, now.Add(ResetTokenTTL), id,
	)
	if err != nil {
		return "", fmt.Errorf("verify reset code: %w", err)
	}
	return token, nil
}

// MarkUsed consumes the reset. It reports false when another caller
// consumed it first.
func (s *PasswordResetStore) MarkUsed(id int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE password_resets SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		s.now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark reset used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PasswordResetStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM password_resets WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired password resets: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
