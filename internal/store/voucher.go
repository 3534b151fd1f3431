package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dukerupert/vitisco/internal/database"
	"github.com/dukerupert/vitisco/internal/model"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 8
	codeAttempts = 5
)

var errCodeExhausted = errors.New("could not generate a unique voucher code")

type VoucherStore struct {
	db      *sql.DB
	now     func() time.Time
	newCode func() (string, error)
}

func NewVoucherStore(db *sql.DB) *VoucherStore {
	return &VoucherStore{db: db, now: time.Now, newCode: GenerateCode}
}

// SetClock replaces the clock used to evaluate voucher expiry.
func (s *VoucherStore) SetClock(now func() time.Time) {
	s.now = now
}

// GenerateCode returns a random redemption code of eight characters drawn
// from A-Z and 0-9.
func GenerateCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func scanVoucher(scanner interface{ Scan(...any) error }) (*model.Voucher, error) {
	var v model.Voucher
	var active int
	err := scanner.Scan(
		&v.ID, &v.Title, &v.Description, &v.Discount, &v.PointsRequired,
		&v.MinMembershipID, &v.ExpiryDate, &active, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.IsActive = active != 0
	return &v, nil
}

const voucherCols = `id, title, description, discount, points_required, min_membership_id, expiry_date, is_active, created_at`

func (s *VoucherStore) Create(v model.Voucher) (*model.Voucher, error) {
	var a int
	if v.IsActive {
		a = 1
	}
	if v.MinMembershipID == 0 {
		v.MinMembershipID = 1
	}

	result, err := s.db.Exec(
		`INSERT INTO vouchers (title, description, discount, points_required, min_membership_id, expiry_date, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Title, v.Description, v.Discount, v.PointsRequired, v.MinMembershipID,
		v.ExpiryDate.UTC(), a, s.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert voucher: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *VoucherStore) GetByID(id int64) (*model.Voucher, error) {
	row := s.db.QueryRow(`SELECT `+voucherCols+` FROM vouchers WHERE id = ?`, id)
	v, err := scanVoucher(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	return v, nil
}

// ListActive returns the vouchers that are active and unexpired, soonest
// expiry first.
func (s *VoucherStore) ListActive() ([]model.Voucher, error) {
	return s.listAvailable(func(model.Voucher) bool { return true })
}

// ListAvailable returns the active, unexpired vouchers that a member of
// membershipID may redeem.
func (s *VoucherStore) ListAvailable(membershipID int64) ([]model.Voucher, error) {
	return s.listAvailable(func(v model.Voucher) bool { return v.MinMembershipID <= membershipID })
}

func (s *VoucherStore) listAvailable(keep func(model.Voucher) bool) ([]model.Voucher, error) {
	rows, err := s.db.Query(`SELECT ` + voucherCols + ` FROM vouchers WHERE is_active = 1 ORDER BY expiry_date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var vouchers []model.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		if v.Available(now) && keep(*v) {
			vouchers = append(vouchers, *v)
		}
	}
	return vouchers, rows.Err()
}

// ListRedeemed returns every redemption made by userID, newest first.
func (s *VoucherStore) ListRedeemed(userID int64) ([]model.UserVoucher, error) {
	rows, err := s.db.Query(
		`SELECT uv.id, uv.user_id, uv.code, uv.redeemed_at, uv.is_used,
			v.id, v.title, v.description, v.discount, v.points_required,
			v.min_membership_id, v.expiry_date, v.is_active, v.created_at
		FROM user_vouchers uv JOIN vouchers v ON v.id = uv.voucher_id
		WHERE uv.user_id = ? ORDER BY uv.redeemed_at DESC, uv.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list redeemed vouchers: %w", err)
	}
	defer rows.Close()

	var redeemed []model.UserVoucher
	for rows.Next() {
		var uv model.UserVoucher
		var used, active int
		err := rows.Scan(
			&uv.ID, &uv.UserID, &uv.Code, &uv.RedeemedAt, &used,
			&uv.Voucher.ID, &uv.Voucher.Title, &uv.Voucher.Description, &uv.Voucher.Discount,
			&uv.Voucher.PointsRequired, &uv.Voucher.MinMembershipID, &uv.Voucher.ExpiryDate,
			&active, &uv.Voucher.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan redeemed voucher: %w", err)
		}
		uv.IsUsed = used != 0
		uv.Voucher.IsActive = active != 0
		redeemed = append(redeemed, uv)
	}
	return redeemed, rows.Err()
}

// Redeem spends the user's points on a voucher. The whole exchange runs in
// one transaction: on any failure nothing is deducted and no redemption row
// exists.
func (s *VoucherStore) Redeem(ctx context.Context, userID, voucherID int64) (*model.Redemption, error) {
	now := s.now().UTC()
	var out *model.Redemption

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+voucherCols+` FROM vouchers WHERE id = ?`, voucherID)
		v, err := scanVoucher(row)
		if err == sql.ErrNoRows {
			return ErrVoucherUnavailable
		}
		if err != nil {
			return fmt.Errorf("get voucher: %w", err)
		}
		if !v.Available(now) {
			return ErrVoucherUnavailable
		}

		var points int
		var membershipID int64
		err = tx.QueryRowContext(ctx,
			`SELECT points, membership_id FROM users WHERE id = ?`, userID,
		).Scan(&points, &membershipID)
		if err == sql.ErrNoRows {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("get user points: %w", err)
		}
		if v.MinMembershipID > membershipID {
			return ErrNotEligible
		}
		if points < v.PointsRequired {
			return ErrInsufficientPoints
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE users SET points = points - ?, updated_at = ? WHERE id = ? AND points >= ?`,
			v.PointsRequired, now, userID, v.PointsRequired,
		)
		if err != nil {
			return fmt.Errorf("deduct points: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrInsufficientPoints
		}
		var remaining int
		err = tx.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, userID).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("read remaining points: %w", err)
		}

		code, err := s.uniqueCode(ctx, tx)
		if err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx,
			`INSERT INTO user_vouchers (user_id, voucher_id, code, redeemed_at) VALUES (?, ?, ?, ?)`,
			userID, voucherID, code, now,
		)
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO xp_history (user_id, points, reason, created_at) VALUES (?, ?, ?, ?)`,
			userID, -v.PointsRequired, "Redeemed "+v.Title, now,
		); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		out = &model.Redemption{
			UserVoucherID:   id,
			VoucherID:       voucherID,
			Code:            code,
			PointsDeducted:  v.PointsRequired,
			RemainingPoints: remaining,
			VoucherTitle:    v.Title,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *VoucherStore) uniqueCode(ctx context.Context, tx *sql.Tx) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		var taken int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM user_vouchers WHERE code = ?`, code,
		).Scan(&taken); err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if taken == 0 {
			return code, nil
		}
	}
	return "", errCodeExhausted
}

// MarkUsed flags a redemption as consumed at the partner.
func (s *VoucherStore) MarkUsed(userID, userVoucherID int64) error {
	result, err := s.db.Exec(
		`UPDATE user_vouchers SET is_used = 1 WHERE id = ? AND user_id = ?`, userVoucherID, userID,
	)
	if err != nil {
		return fmt.Errorf("mark voucher used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrVoucherUnavailable
	}
	return nil
}
