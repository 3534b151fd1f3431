package model

import "time"

type XPEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Points    int       `json:"points"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"date"`
}

type XPSummary struct {
	TotalXP int       `json:"totalXP"`
	History []XPEntry `json:"history"`
}

type LessonCompletion struct {
	XPEarned      int  `json:"xpEarned"`
	TotalXP       int  `json:"totalXp"`
	UnlockedLevel int  `json:"unlockedLevel"`
	LeveledUp     bool `json:"leveledUp"`
}

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}
