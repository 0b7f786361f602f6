package models

import (
	"log/slog"
	"time"
)

// PublishOutcome is the immutable result of one platform attempt.
type PublishOutcome struct {
	Platform  Platform  `json:"platform"`
	Success   bool      `json:"success"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func SuccessOutcome(platform Platform, remoteID string, at time.Time) PublishOutcome {
	return PublishOutcome{Platform: platform, Success: true, RemoteID: remoteID, Timestamp: at}
}

func FailureOutcome(platform Platform, err error, at time.Time) PublishOutcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return PublishOutcome{Platform: platform, Success: false, Error: msg, Timestamp: at}
}

// BestEffort is returned by side effects whose failure must never fail the
// caller. It is not an error; callers Discard it.
type BestEffort struct {
	err error
}

func BestEffortOf(err error) BestEffort { return BestEffort{err: err} }

// Discard logs a failed side effect and drops it.
func (b BestEffort) Discard(msg string, attrs ...any) {
	if b.err == nil {
		return
	}
	slog.Warn(msg, append(attrs, "error", b.err.Error())...)
}
