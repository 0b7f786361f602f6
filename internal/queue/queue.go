package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/repository"
)

// Enqueuer is the part of *asynq.Client used to request an immediate publish.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueuePublishNow asks a worker to publish postID right away. A request
// for a post that is already queued is not an error.
func EnqueuePublishNow(ctx context.Context, client Enqueuer, postID int64) error {
	payload, err := json.Marshal(PublishNowPayload{PostID: postID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishNow, payload)
	_, err = client.EnqueueContext(ctx, task, asynq.MaxRetry(2), asynq.Unique(time.Minute))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		slog.Info("publish-now task already queued", "post_id", postID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue publish-now task: %w", err)
	}

	slog.Info("publish-now task queued", "post_id", postID)
	return nil
}

func (d *Dispatcher) HandlePublishNowTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishNowPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode publish-now payload: %v: %w", err, asynq.SkipRetry)
	}

	err := d.PublishPost(ctx, payload.PostID)
	if errors.Is(err, repository.ErrPostNotFound) {
		return fmt.Errorf("post %d: %w: %w", payload.PostID, err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("publish post %d: %w", payload.PostID, err)
	}
	return nil
}
