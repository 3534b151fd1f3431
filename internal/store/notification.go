package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/vitisco/internal/model"
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var read int
	err := scanner.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &read, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.IsRead = read != 0
	return &n, nil
}

const notificationCols = `id, user_id, kind, message, is_read, created_at`

func (s *NotificationStore) Create(userID int64, kind, message string) (*model.Notification, error) {
	result, err := s.db.Exec(
		`INSERT INTO notifications (user_id, kind, message, created_at) VALUES (?, ?, ?, ?)`,
		userID, kind, message, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// List returns the newest notifications for userID, up to limit.
func (s *NotificationStore) List(userID int64, limit int) ([]model.Notification, error) {
	rows, err := s.db.Query(
		`SELECT `+notificationCols+` FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// MarkAllRead marks every unread notification of userID as read and returns
// how many changed.
func (s *NotificationStore) MarkAllRead(userID int64) (int64, error) {
	result, err := s.db.Exec(`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
