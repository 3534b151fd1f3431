package model

import "time"

type User struct {
	ID             int64     `json:"userId"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Phone          string    `json:"phone"`
	Gender         string    `json:"gender"`
	NativeLanguage string    `json:"nativeLanguage"`
	Location       string    `json:"location"`
	MembershipID   int64     `json:"-"`
	MembershipType string    `json:"membershipType"`
	Level          int       `json:"level"`
	Points         int       `json:"points"`
	XPPoints       int       `json:"xpPoints"`
	IsAdmin        bool      `json:"isAdmin"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ProfileUpdate holds the user-editable profile fields.
type ProfileUpdate struct {
	Name           string `json:"name"`
	Location       string `json:"location"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Gender         string `json:"gender"`
	NativeLanguage string `json:"nativeLanguage"`
}

type UserStats struct {
	Followers     int `json:"followers"`
	Following     int `json:"following"`
	Notifications int `json:"notifications"`
}

type Profile struct {
	User
	Handle        string   `json:"handle"`
	Followers     int      `json:"followers"`
	Following     int      `json:"following"`
	Notifications int      `json:"notifications"`
	Badges        []Badge  `json:"badges"`
	Rewards       []Reward `json:"rewards"`
}
