package queue

import (
	"sync"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
)

// Dispatcher drives due posts through publication. Ticks never overlap and a
// post is only ever handled by one caller at a time, whether it came from a
// tick or a publish-now task.
type Dispatcher struct {
	posts      repository.ScheduledPostRepository
	history    repository.PostingHistoryRepository
	gallery    repository.MediaAssetRepository
	store      service.CredentialStore
	publishers service.Publishers
	stager     service.MediaStager
	cfg        config.Scheduler
	now        func() time.Time

	tickMu   sync.Mutex
	inFlight sync.Map
}

func NewDispatcher(
	cfg config.Scheduler,
	posts repository.ScheduledPostRepository,
	history repository.PostingHistoryRepository,
	gallery repository.MediaAssetRepository,
	store service.CredentialStore,
	publishers service.Publishers,
	stager service.MediaStager) *Dispatcher {
	if cfg.DispatchBatch <= 0 {
		cfg.DispatchBatch = 10
	}
	if cfg.PublishConcurrency <= 0 {
		cfg.PublishConcurrency = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	return &Dispatcher{
		posts:      posts,
		history:    history,
		gallery:    gallery,
		store:      store,
		publishers: publishers,
		stager:     stager,
		cfg:        cfg,
		now:        time.Now,
	}
}

const TaskTypePublishNow = "post:publish_now"

type PublishNowPayload struct {
	PostID int64 `json:"post_id"`
}
