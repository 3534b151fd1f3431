package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/vitisco/internal/database"
	"github.com/dukerupert/vitisco/internal/model"
)

// ProgressStore tracks lesson completions, unlocked levels and the XP ledger.
type ProgressStore struct {
	db *sql.DB
}

func NewProgressStore(db *sql.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// LessonRef is the part of a catalog lesson needed to record a completion.
type LessonRef struct {
	ID       int
	Title    string
	Level    int
	XPReward int
}

// CompleteLesson records a lesson completion. Only the first completion
// credits XP, and it unlocks the next level when the lesson sits at the
// user's current level. Repeats keep the best score.
func (s *ProgressStore) CompleteLesson(ctx context.Context, userID int64, lesson LessonRef, score int) (model.LessonCompletion, error) {
	var out model.LessonCompletion
	now := time.Now().UTC()

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var level, xp int
		err := tx.QueryRowContext(ctx, `SELECT level, xp_points FROM users WHERE id = ?`, userID).Scan(&level, &xp)
		if err == sql.ErrNoRows {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("get user progress: %w", err)
		}

		var done int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM lesson_completions WHERE user_id = ? AND lesson_id = ?`,
			userID, lesson.ID,
		).Scan(&done)
		if err != nil {
			return fmt.Errorf("check completion: %w", err)
		}

		if done == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO lesson_completions (user_id, lesson_id, score, completed_at) VALUES (?, ?, ?, ?)`,
				userID, lesson.ID, score, now,
			); err != nil {
				return fmt.Errorf("insert completion: %w", err)
			}
			if lesson.XPReward > 0 {
				if err := creditXP(ctx, tx, userID, lesson.XPReward, "Completed "+lesson.Title, now); err != nil {
					return err
				}
			}
			out.XPEarned = lesson.XPReward

			if lesson.Level == level {
				level++
				out.LeveledUp = true
				if _, err := tx.ExecContext(ctx,
					`UPDATE users SET level = ?, updated_at = ? WHERE id = ?`, level, now, userID,
				); err != nil {
					return fmt.Errorf("unlock level: %w", err)
				}
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE lesson_completions SET score = ?, completed_at = ? WHERE user_id = ? AND lesson_id = ? AND score < ?`,
				score, now, userID, lesson.ID, score,
			); err != nil {
				return fmt.Errorf("update completion: %w", err)
			}
		}

		out.TotalXP = xp + out.XPEarned
		out.UnlockedLevel = level
		return nil
	})
	if err != nil {
		return model.LessonCompletion{}, err
	}
	return out, nil
}

// CreditXP adds xp to the user's total and records reason in the ledger.
// It returns the new total.
func (s *ProgressStore) CreditXP(ctx context.Context, userID int64, xp int, reason string) (int, error) {
	var total int
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := creditXP(ctx, tx, userID, xp, reason, time.Now().UTC()); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx, `SELECT xp_points FROM users WHERE id = ?`, userID).Scan(&total)
		if err != nil {
			return fmt.Errorf("get xp total: %w", err)
		}
		return nil
	})
	return total, err
}

func creditXP(ctx context.Context, tx *sql.Tx, userID int64, xp int, reason string, now time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET xp_points = xp_points + ?, updated_at = ? WHERE id = ?`, xp, now, userID,
	)
	if err != nil {
		return fmt.Errorf("credit xp: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO xp_history (user_id, points, reason, created_at) VALUES (?, ?, ?, ?)`,
		userID, xp, reason, now,
	); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// Summary returns the user's XP total and the most recent ledger entries.
func (s *ProgressStore) Summary(userID int64, limit int) (*model.XPSummary, error) {
	var sum model.XPSummary
	err := s.db.QueryRow(`SELECT xp_points FROM users WHERE id = ?`, userID).Scan(&sum.TotalXP)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get xp total: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, user_id, points, reason, created_at FROM xp_history
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list xp history: %w", err)
	}
	defer rows.Close()

	sum.History = []model.XPEntry{}
	for rows.Next() {
		var e model.XPEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Points, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan xp entry: %w", err)
		}
		sum.History = append(sum.History, e)
	}
	return &sum, rows.Err()
}

// CompletedLessons returns the ids of every lesson userID has completed.
func (s *ProgressStore) CompletedLessons(userID int64) (map[int]bool, error) {
	rows, err := s.db.Query(`SELECT lesson_id FROM lesson_completions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		done[id] = true
	}
	return done, rows.Err()
}
