package queue

import (
	"fmt"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

const (
	msgPartialSuccess = "Posted to some platforms only"
	msgWillRetry      = "All platforms failed - will retry"
)

// Decision is the state a post moves to after one dispatch attempt.
type Decision struct {
	Status       models.PostStatus
	ScheduledFor time.Time
	RetryCount   int
	Error        *string
	PostedAt     *time.Time
}

// Decide applies the retry and status policy. Any success posts the post and
// ends retrying. A total failure is rescheduled retryDelay after now until
// retryCount reaches maxRetries, then the post fails.
func Decide(targets []models.Platform, outcomes []models.PublishOutcome, retryCount, maxRetries int, scheduledFor, now time.Time, retryDelay time.Duration) Decision {
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}

	succeeded := make(map[models.Platform]bool, len(outcomes))
	anySuccess := false
	for _, o := range outcomes {
		if o.Success {
			succeeded[o.Platform] = true
			anySuccess = true
		}
	}

	if anySuccess {
		allSuccess := len(targets) > 0
		for _, p := range targets {
			if !succeeded[p] {
				allSuccess = false
				break
			}
		}

		d := Decision{
			Status:       models.PostStatusPosted,
			ScheduledFor: scheduledFor,
			RetryCount:   retryCount,
			PostedAt:     &now,
		}
		if !allSuccess {
			d.Error = message(msgPartialSuccess)
		}
		return d
	}

	if retryCount < maxRetries {
		return Decision{
			Status:       models.PostStatusScheduled,
			ScheduledFor: now.Add(retryDelay),
			RetryCount:   retryCount + 1,
			Error:        message(msgWillRetry),
		}
	}

	return Decision{
		Status:       models.PostStatusFailed,
		ScheduledFor: scheduledFor,
		RetryCount:   retryCount,
		Error:        message(fmt.Sprintf("Failed after %d attempts", retryCount)),
	}
}

func message(s string) *string { return &s }

// Apply copies the decision and the attempt's outcomes onto post.
func (d Decision) Apply(post *models.ScheduledPost, outcomes []models.PublishOutcome) {
	post.Status = d.Status
	post.ScheduledFor = d.ScheduledFor
	post.RetryCount = d.RetryCount
	post.Error = d.Error
	post.PostedAt = d.PostedAt
	post.Outcomes = outcomes
}
