package model

import "time"

type Reward struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ImageURL    string     `json:"imageUrl"`
	CreatedAt   time.Time  `json:"createdAt"`
	AwardedAt   *time.Time `json:"awardedAt,omitempty"`
}

type Badge struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ImageURL    string     `json:"imageUrl"`
	CreatedAt   time.Time  `json:"createdAt"`
	AwardedAt   *time.Time `json:"awardedAt,omitempty"`
}
