package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/vitisco/internal/model"
)

type BadgeStore struct {
	db *sql.DB
}

func NewBadgeStore(db *sql.DB) *BadgeStore {
	return &BadgeStore{db: db}
}

func scanBadge(scanner interface{ Scan(...any) error }) (*model.Badge, error) {
	var b model.Badge
	err := scanner.Scan(&b.ID, &b.Name, &b.Description, &b.ImageURL, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const badgeCols = `id, name, description, image_url, created_at`

func (s *BadgeStore) Create(name, description, imageURL string) (*model.Badge, error) {
	result, err := s.db.Exec(
		`INSERT INTO badges (name, description, image_url, created_at) VALUES (?, ?, ?, ?)`,
		name, description, imageURL, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert badge: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *BadgeStore) GetByID(id int64) (*model.Badge, error) {
	row := s.db.QueryRow(`SELECT `+badgeCols+` FROM badges WHERE id = ?`, id)
	b, err := scanBadge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get badge: %w", err)
	}
	return b, nil
}

func (s *BadgeStore) List() ([]model.Badge, error) {
	rows, err := s.db.Query(`SELECT ` + badgeCols + ` FROM badges ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	defer rows.Close()

	var badges []model.Badge
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		badges = append(badges, *b)
	}
	return badges, rows.Err()
}

// ListForUser returns the badges awarded to userID, newest award first.
func (s *BadgeStore) ListForUser(userID int64) ([]model.Badge, error) {
	rows, err := s.db.Query(
		`SELECT b.id, b.name, b.description, b.image_url, b.created_at, ub.awarded_at
		FROM user_badges ub JOIN badges b ON b.id = ub.badge_id
		WHERE ub.user_id = ? ORDER BY ub.awarded_at DESC, b.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	defer rows.Close()

	var badges []model.Badge
	for rows.Next() {
		var b model.Badge
		var awarded time.Time
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.ImageURL, &b.CreatedAt, &awarded); err != nil {
			return nil, fmt.Errorf("scan user badge: %w", err)
		}
		b.AwardedAt = &awarded
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// Award grants badgeID to userID. Each badge can be held once.
func (s *BadgeStore) Award(userID, badgeID int64) (*model.Badge, error) {
	var users int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&users); err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if users == 0 {
		return nil, ErrUserNotFound
	}

	b, err := s.GetByID(badgeID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBadgeNotFound
	}

	var held int
	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM user_badges WHERE user_id = ? AND badge_id = ?`, userID, badgeID,
	).Scan(&held)
	if err != nil {
		return nil, fmt.Errorf("check user badge: %w", err)
	}
	if held > 0 {
		return nil, ErrBadgeAlreadyAwarded
	}

	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO user_badges (user_id, badge_id, awarded_at) VALUES (?, ?, ?)`,
		userID, badgeID, now,
	); err != nil {
		return nil, fmt.Errorf("insert user badge: %w", err)
	}
	b.AwardedAt = &now
	return b, nil
}
