package service

import (
	"time"
)

// GetExpiresAt converts an expires_in seconds value. Zero means the token
// does not expire.
func GetExpiresAt(expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(expiresIn) * time.Second)
	return &t
}

// unixTime converts a unix timestamp where zero means never.
func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0)
	return &t
}
