package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/vitisco/internal/database"
	"github.com/dukerupert/vitisco/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var admin int
	err := scanner.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Phone, &u.Gender,
		&u.NativeLanguage, &u.Location, &u.MembershipID, &u.MembershipType,
		&u.Level, &u.Points, &u.XPPoints, &admin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.IsAdmin = admin != 0
	return &u, nil
}

const userCols = `u.id, u.name, u.email, u.password_hash, u.phone, u.gender,
	u.native_language, u.location, u.membership_id, m.type,
	u.level, u.points, u.xp_points, u.is_admin, u.created_at, u.updated_at`

const userFrom = ` FROM users u JOIN memberships m ON m.id = u.membership_id`

// Create inserts a Bronze member with level 1 and empty balances.
func (s *UserStore) Create(name, email, passwordHash string) (*model.User, error) {
	existing, err := s.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailInUse
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO users (name, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name, email, passwordHash, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+userFrom+` WHERE u.id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+userFrom+` WHERE u.email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UpdateProfile overwrites the editable profile fields. Empty fields keep
// their current value.
func (s *UserStore) UpdateProfile(id int64, p model.ProfileUpdate) (*model.User, error) {
	current, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrUserNotFound
	}

	if p.Email != "" && p.Email != current.Email {
		other, err := s.GetByEmail(p.Email)
		if err != nil {
			return nil, err
		}
		if other != nil {
			return nil, ErrEmailInUse
		}
	}

	_, err = s.db.Exec(
		`UPDATE users SET name = ?, location = ?, phone = ?, email = ?, gender = ?, native_language = ?, updated_at = ?
		WHERE id = ?`,
		orDefault(p.Name, current.Name),
		orDefault(p.Location, current.Location),
		orDefault(p.Phone, current.Phone),
		orDefault(p.Email, current.Email),
		orDefault(p.Gender, current.Gender),
		orDefault(p.NativeLanguage, current.NativeLanguage),
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (s *UserStore) SetAdmin(id int64, admin bool) error {
	var a int
	if admin {
		a = 1
	}
	result, err := s.db.Exec(`UPDATE users SET is_admin = ?, updated_at = ? WHERE id = ?`, a, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *UserStore) SetPassword(id int64, passwordHash string) error {
	result, err := s.db.Exec(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AdjustPoints credits amount (negative debits) to the user's spendable
// balance and records it in the ledger. The balance never goes below zero.
func (s *UserStore) AdjustPoints(ctx context.Context, id int64, amount int, reason string) (*model.User, error) {
	now := time.Now().UTC()
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET points = points + ?, updated_at = ? WHERE id = ? AND points + ? >= 0`,
			amount, now, id, amount,
		)
		if err != nil {
			return fmt.Errorf("adjust points: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, id).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check user: %w", err)
			}
			if exists == 0 {
				return ErrUserNotFound
			}
			return ErrNegativeBalance
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO xp_history (user_id, points, reason, created_at) VALUES (?, ?, ?, ?)`,
			id, amount, reason, now,
		); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// Stats returns follower, following and unread notification counts.
func (s *UserStore) Stats(id int64) (model.UserStats, error) {
	var st model.UserStats
	err := s.db.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM followers WHERE followed_id = ?),
			(SELECT COUNT(*) FROM followers WHERE follower_id = ?),
			(SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0)`,
		id, id, id,
	).Scan(&st.Followers, &st.Following, &st.Notifications)
	if err != nil {
		return st, fmt.Errorf("user stats: %w", err)
	}
	return st, nil
}
