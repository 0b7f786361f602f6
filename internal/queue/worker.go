package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost/internal/metrics"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
)

// Tick publishes every post that is due, up to the batch size. It never
// returns an error: failures are logged and the next tick runs as usual.
func (d *Dispatcher) Tick(ctx context.Context) {
	if !d.tickMu.TryLock() {
		slog.Warn("dispatch tick skipped, previous tick still running")
		metrics.DispatchTicks.WithLabelValues("skipped").Inc()
		return
	}
	defer d.tickMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.DispatchTickDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			slog.Error("dispatch tick panicked", "panic", r)
			metrics.DispatchTicks.WithLabelValues("error").Inc()
		}
	}()

	due, err := d.posts.FindDue(ctx, d.now(), d.cfg.DispatchBatch)
	if err != nil {
		slog.Error("find due posts", "error", err)
		metrics.DispatchTicks.WithLabelValues("error").Inc()
		return
	}
	if len(due) > 0 {
		slog.Info("dispatching due posts", "count", len(due))
	}

	for _, post := range due {
		if ctx.Err() != nil {
			slog.Warn("dispatch tick cancelled", "error", ctx.Err())
			break
		}
		d.dispatchOne(ctx, post.ID)
	}

	metrics.DispatchTicks.WithLabelValues("ok").Inc()
}

// dispatchOne is the recovery boundary of a single post.
func (d *Dispatcher) dispatchOne(ctx context.Context, postID int64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("publishing post panicked", "post_id", postID, "panic", r)
			d.markFailed(context.WithoutCancel(ctx), postID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := d.publish(ctx, postID, true); err != nil {
		slog.Error("publish post", "post_id", postID, "error", err)
	}
}

// PublishPost makes one publish attempt for a post and records the result,
// whether or not the post is due yet. Posts that are no longer scheduled, or
// already being published, are left alone.
func (d *Dispatcher) PublishPost(ctx context.Context, postID int64) error {
	return d.publish(ctx, postID, false)
}

// publish is PublishPost with an optional due check. The tick sets requireDue
// because a post may have been rescheduled after FindDue returned it.
func (d *Dispatcher) publish(ctx context.Context, postID int64, requireDue bool) error {
	if _, busy := d.inFlight.LoadOrStore(postID, struct{}{}); busy {
		slog.Info("post already being published", "post_id", postID)
		return nil
	}
	defer d.inFlight.Delete(postID)

	post, err := d.posts.GetByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("load post: %w", err)
	}
	if post == nil {
		return repository.ErrPostNotFound
	}
	if post.Status != models.PostStatusScheduled {
		slog.Info("post is not scheduled, skipping", "post_id", postID, "status", post.Status)
		return nil
	}
	if requireDue && post.ScheduledFor.After(d.now()) {
		slog.Info("post is no longer due, skipping", "post_id", postID, "scheduled_for", post.ScheduledFor)
		return nil
	}

	outcomes := d.attempt(ctx, post)

	// Platforms may already have gone live, so the result is recorded even
	// if ctx is cancelled from here on.
	ctx = context.WithoutCancel(ctx)

	maxRetries := post.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.cfg.MaxRetries
	}
	decision := Decide(post.Platforms, outcomes, post.RetryCount, maxRetries, post.ScheduledFor, d.now(), d.cfg.RetryDelay)
	decision.Apply(post, outcomes)

	if err := d.posts.Save(ctx, post); err != nil {
		d.markFailed(ctx, postID, err.Error())
		return fmt.Errorf("save post: %w", err)
	}
	metrics.PostTransitions.WithLabelValues(string(post.Status)).Inc()

	logAttrs := []any{"post_id", post.ID, "status", post.Status, "retry_count", post.RetryCount}
	if post.Error != nil {
		logAttrs = append(logAttrs, "message", *post.Error)
	}
	slog.Info("post dispatched", logAttrs...)

	if post.Status == models.PostStatusPosted {
		d.recordPosted(ctx, post)
	}
	return nil
}

// attempt stages inline media and publishes to every target platform.
func (d *Dispatcher) attempt(ctx context.Context, post *models.ScheduledPost) []models.PublishOutcome {
	content, err := d.stageContent(ctx, post.UserID, post.Content)
	if err != nil {
		slog.Error("stage inline media", "post_id", post.ID, "error", err)
		outcomes := make([]models.PublishOutcome, len(post.Platforms))
		for i, p := range post.Platforms {
			outcomes[i] = models.FailureOutcome(p, err, d.now())
		}
		return outcomes
	}
	post.Content = content

	return d.publishAll(ctx, post)
}

// publishAll runs the platform attempts concurrently and returns their
// outcomes in target order. A failing or panicking platform never affects the
// others.
func (d *Dispatcher) publishAll(ctx context.Context, post *models.ScheduledPost) []models.PublishOutcome {
	outcomes := make([]models.PublishOutcome, len(post.Platforms))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, d.cfg.PublishConcurrency)

	for i, platform := range post.Platforms {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int, platform models.Platform) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("platform publish panicked", "post_id", post.ID, "platform", platform, "panic", r)
					outcomes[i] = models.FailureOutcome(platform, fmt.Errorf("internal error: %v", r), d.now())
				}
			}()

			start := time.Now()
			outcomes[i] = d.publishTo(ctx, post, platform)
			metrics.PublishDuration.WithLabelValues(platform.String()).Observe(time.Since(start).Seconds())
		}(i, platform)
	}
	wg.Wait()

	for _, o := range outcomes {
		result := "success"
		if !o.Success {
			result = "failure"
		}
		metrics.PublishOutcomes.WithLabelValues(o.Platform.String(), result).Inc()
	}
	return outcomes
}

func (d *Dispatcher) publishTo(ctx context.Context, post *models.ScheduledPost, platform models.Platform) models.PublishOutcome {
	target, err := d.store.ResolveTarget(ctx, post.UserID, platform, post.TargetID)
	if err != nil {
		if service.IsNotConnected(err) {
			slog.Warn("platform not connected", "post_id", post.ID, "user_id", post.UserID, "platform", platform, "error", err)
		} else {
			slog.Error("resolve publish target", "post_id", post.ID, "user_id", post.UserID, "platform", platform, "error", err)
		}
		return models.FailureOutcome(platform, err, d.now())
	}

	publisher, err := d.publishers.For(target)
	if err != nil {
		return models.FailureOutcome(platform, err, d.now())
	}

	caption := service.FormatCaption(platform, post.Caption, post.Title, post.Hashtags)
	outcome := publisher.Publish(ctx, target, post.Content, caption)
	outcome.Platform = platform

	if outcome.Success {
		slog.Info("published", "post_id", post.ID, "platform", platform, "remote_id", outcome.RemoteID)
	} else {
		slog.Warn("publish failed", "post_id", post.ID, "platform", platform, "error", outcome.Error)
	}
	return outcome
}

// stageContent replaces data URIs with hosted URLs.
func (d *Dispatcher) stageContent(ctx context.Context, userID int64, content models.Content) (models.Content, error) {
	stage := func(ref string) (string, error) {
		if !service.IsDataURI(ref) {
			return ref, nil
		}
		if d.stager == nil {
			return "", errors.New("inline media is not supported: no media host configured")
		}
		url, _, err := d.stager.Stage(ctx, userID, ref)
		return url, err
	}

	staged := content
	var err error
	if staged.ImageURL, err = stage(content.ImageURL); err != nil {
		return content, err
	}
	if staged.VideoURL, err = stage(content.VideoURL); err != nil {
		return content, err
	}
	if len(content.Items) > 0 {
		staged.Items = make([]models.MediaItem, len(content.Items))
		for i, item := range content.Items {
			if item.URL, err = stage(item.URL); err != nil {
				return content, fmt.Errorf("carousel item %d: %w", i+1, err)
			}
			staged.Items[i] = item
		}
	}
	return staged, nil
}

// recordPosted writes the history entry and gallery items of a post that
// just went out. Neither can fail the publish.
func (d *Dispatcher) recordPosted(ctx context.Context, post *models.ScheduledPost) {
	media := post.Content.Media()

	var succeeded []models.Platform
	for _, o := range post.Outcomes {
		if o.Success {
			succeeded = append(succeeded, o.Platform)
		}
	}

	postedAt := d.now()
	if post.PostedAt != nil {
		postedAt = *post.PostedAt
	}

	if d.history != nil {
		_, err := d.history.Create(ctx, &models.PostHistory{
			UserID:          post.UserID,
			ScheduledPostID: post.ID,
			Caption:         post.Caption,
			Media:           media,
			Platforms:       succeeded,
			Outcomes:        post.Outcomes,
			PostedAt:        postedAt,
		})
		models.BestEffortOf(err).Discard("record posting history", "post_id", post.ID)
	}

	if d.gallery == nil {
		return
	}
	for _, item := range media {
		err := d.gallery.Create(ctx, &models.MediaAsset{
			UserID:   post.UserID,
			FileURL:  item.URL,
			FileType: item.Type,
		})
		models.BestEffortOf(err).Discard("record gallery item", "post_id", post.ID, "url", item.URL)
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, postID int64, message string) {
	if err := d.posts.MarkFailed(ctx, postID, message); err != nil {
		slog.Error("mark post failed", "post_id", postID, "error", err)
		return
	}
	metrics.PostTransitions.WithLabelValues(string(models.PostStatusFailed)).Inc()
}
