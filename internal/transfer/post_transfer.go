package transfer

import (
	"github.com/maheshrc27/crosspost/internal/models"
)

// PostCreation is the body of POST /api/posts. ScheduledFor is RFC 3339 or
// the browser's datetime-local form (2006-01-02T15:04, read as UTC).
type PostCreation struct {
	Caption      string         `json:"caption"`
	Title        string         `json:"title"`
	Content      models.Content `json:"content"`
	Platforms    []string       `json:"platforms"`
	TargetID     string         `json:"target_id"`
	ScheduledFor string         `json:"scheduled_for"`
	Hashtags     []string       `json:"hashtags"`
	MaxRetries   int            `json:"max_retries"`
}

type PostCreated struct {
	ID           int64  `json:"id"`
	ScheduledFor string `json:"scheduled_for"`
}
