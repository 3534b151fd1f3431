package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/vitisco/internal/model"
)

type FollowStore struct {
	db *sql.DB
}

func NewFollowStore(db *sql.DB) *FollowStore {
	return &FollowStore{db: db}
}

func (s *FollowStore) userExists(id int64) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return n > 0, nil
}

func (s *FollowStore) IsFollowing(followerID, followedID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM followers WHERE follower_id = ? AND followed_id = ?`,
		followerID, followedID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check follow: %w", err)
	}
	return n > 0, nil
}

func (s *FollowStore) Follow(followerID, followedID int64) error {
	if followerID == followedID {
		return ErrCannotFollowSelf
	}
	for _, id := range []int64{followerID, followedID} {
		ok, err := s.userExists(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserNotFound
		}
	}

	following, err := s.IsFollowing(followerID, followedID)
	if err != nil {
		return err
	}
	if following {
		return ErrAlreadyFollowing
	}

	_, err = s.db.Exec(
		`INSERT INTO followers (follower_id, followed_id, created_at) VALUES (?, ?, ?)`,
		followerID, followedID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

func (s *FollowStore) Unfollow(followerID, followedID int64) error {
	result, err := s.db.Exec(
		`DELETE FROM followers WHERE follower_id = ? AND followed_id = ?`,
		followerID, followedID,
	)
	if err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFollowing
	}
	return nil
}

// Followers lists the users following userID, most recent first.
func (s *FollowStore) Followers(userID int64) ([]model.User, error) {
	return s.listUsers(
		`SELECT `+userCols+userFrom+` JOIN followers f ON f.follower_id = u.id
		WHERE f.followed_id = ? ORDER BY f.created_at DESC`, userID)
}

// Following lists the users userID follows, most recent first.
func (s *FollowStore) Following(userID int64) ([]model.User, error) {
	return s.listUsers(
		`SELECT `+userCols+userFrom+` JOIN followers f ON f.followed_id = u.id
		WHERE f.follower_id = ? ORDER BY f.created_at DESC`, userID)
}

func (s *FollowStore) listUsers(query string, userID int64) ([]model.User, error) {
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("list follow users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
