package model

import "time"

type SessionToken struct {
	TokenHash   string    `db:"token_hash" json:"-"`
	UserID      string    `db:"user_id" json:"userId"`
	RoomID      string    `db:"room_id" json:"roomId"`
	DisplayName string    `db:"display_name" json:"displayName"`
	IssuedAt    time.Time `db:"issued_at" json:"issuedAt"`
	ExpiresAt   time.Time `db:"expires_at" json:"expiresAt"`

	// ReplacedHash is set by Upsert to the hash of the token it replaced.
	ReplacedHash string `db:"replaced_hash" json:"-"`
}

func (t *SessionToken) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Identity returns what a validated token binds.
func (t *SessionToken) Identity() TokenIdentity {
	return TokenIdentity{
		TokenHash:   t.TokenHash,
		UserID:      t.UserID,
		RoomID:      t.RoomID,
		DisplayName: t.DisplayName,
	}
}

type TokenIdentity struct {
	TokenHash   string `json:"-"`
	UserID      string `json:"userId"`
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type UpsertTokenParams struct {
	TokenHash   string
	UserID      string
	RoomID      string
	DisplayName string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}
