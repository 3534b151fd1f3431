package store

import (
	"database/sql"
	"fmt"
	"time"

	"githur.com/dukerupert/vitisco/internal/model"
)

type RewardStore struct {
	db *sql.DB
}

func NewRewardStore(db *sql.DB) *RewardStore {
	return &RewardStore{db: db}
}

func scanReward(scanner interface{ Scan(...any) error }) (*model.Reward, error) {
	var r model.Reward
	err := scanner.Scan(&r.ID, &r.Name, &r.Description, &r.ImageURL, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const rewardCols = `id, name, description, image_url, created_at`

func (s *RewardStore) Create(name, description, imageURL string) (*model.Reward, error) {
	result, err := s.db.Exec(
		`INSERT INTO rewards (name, description, image_url, created_at) VALUES (?, ?, ?, ?)`,
		name, description, imageURL, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *RewardStore) GetByID(id int64) (*model.Reward, error) {
	row := s.db.QueryRow(`SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

func (s *RewardStore) List() ([]model.Reward, error) {
	rows, err := s.db.Query(`SELECT ` + rewardCols + ` FROM rewards ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

// ListForUser returns the rewards awarded to userID, newest award first.
func (s *RewardStore) ListForUser(userID int64) ([]model.Reward, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.name, r.description, r.image_url, r.created_at, ur.awarded_at
		FROM user_rewards ur JOIN rewards r ON r.id = ur.reward_id
		WHERE ur.user_id = ? ORDER BY ur.awarded_at DESC, r.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		var r model.Reward
		var awarded time.Time
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.ImageURL, &r.CreatedAt, &awarded); err != nil {
			return nil, fmt.Errorf("scan user reward: %w", err)
		}
		r.AwardedAt = &awarded
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}

// Award grants rewardID to userID. Each reward can be held once.
func (s *RewardStore) Award(userID, rewardID int64) (*model.Reward, error) {
	var users int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&users); err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if users == 0 {
		return nil, ErrUserNotFound
	}

	r, err := s.GetByID(rewardID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRewardNotFound
	}

	var held int
	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM user_rewards WHERE user_id = ? AND reward_id = ?`, userID, rewardID,
	).Scan(&held)
	if err != nil {
		return nil, fmt.Errorf("check user reward: %w", err)
	}
	if held > 0 {
		return nil, ErrRewardAlreadyAwarded
	}

	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO user_rewards (user_id, reward_id, awarded_at) VALUES (?, ?, ?)`,
		userID, rewardID, now,
	); err != nil {
		return nil, fmt.Errorf("insert user reward: %w", err)
	}
	r.AwardedAt = &now
	return r, nil
}
