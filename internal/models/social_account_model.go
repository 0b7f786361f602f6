package models

import (
	"time"
)

// SocialAccount is the at-rest connection record for one user and platform.
// Token fields hold ciphertext produced by utils.Cipher.
type SocialAccount struct {
	ID              int64      `db:"id" json:"id"`
	UserID          int64      `db:"user_id" json:"user_id"`
	Platform        Platform   `db:"platform" json:"platform"`
	Connected       bool       `db:"connected" json:"connected"`
	AccountID       string     `db:"account_id" json:"account_id"` // remote user, member or channel id
	AccountUsername string     `db:"account_username" json:"account_username"`
	AccessToken     string     `db:"access_token" json:"-"`
	AccessSecret    string     `db:"access_secret" json:"-"` // OAuth1 platforms only
	RefreshToken    string     `db:"refresh_token" json:"-"`
	ObtainedAt      time.Time  `db:"obtained_at" json:"obtained_at"`
	TokenExpiresAt  *time.Time `db:"token_expires_at" json:"token_expires_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// FacebookPage is a managed Page with its own encrypted page token.
type FacebookPage struct {
	UserID              int64     `db:"user_id" json:"user_id"`
	PageID              string    `db:"page_id" json:"page_id"`
	Name                string    `db:"name" json:"name"`
	AccessToken         string    `db:"access_token" json:"-"`
	InstagramBusinessID *string   `db:"instagram_business_id" json:"instagram_business_id,omitempty"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}
