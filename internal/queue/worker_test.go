package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dispatchNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fakePosts struct {
	mu      sync.Mutex
	posts   map[int64]*models.ScheduledPost
	saveErr error
	failed  map[int64]string
	saves   int
	findDue func()
}

func newFakePosts(posts ...*models.ScheduledPost) *fakePosts {
	f := &fakePosts{posts: make(map[int64]*models.ScheduledPost), failed: make(map[int64]string)}
	for _, p := range posts {
		f.posts[p.ID] = p
	}
	return f
}

func (f *fakePosts) get(id int64) *models.ScheduledPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.posts[id]
	return &cp
}

func (f *fakePosts) Create(ctx context.Context, post *models.ScheduledPost) (int64, error) {
	return 0, errors.New("not used")
}

func (f *fakePosts) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) ListByUserID(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	return nil, nil
}

func (f *fakePosts) FindDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	if f.findDue != nil {
		f.findDue()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*models.ScheduledPost
	for id := int64(1); id <= int64(len(f.posts))+10 && len(due) < limit; id++ {
		p, ok := f.posts[id]
		if ok && p.Status == models.PostStatusScheduled && !p.ScheduledFor.After(now) {
			cp := *p
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (f *fakePosts) Save(ctx context.Context, post *models.ScheduledPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	cp := *post
	f.posts[post.ID] = &cp
	return nil
}

func (f *fakePosts) MarkFailed(ctx context.Context, id int64, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = message
	if p, ok := f.posts[id]; ok {
		p.Status = models.PostStatusFailed
		p.Error = &message
	}
	return nil
}

func (f *fakePosts) Remove(ctx context.Context, id, userID int64) (bool, error) {
	return false, nil
}

// fakeStore resolves targets from a fixed set of connected platforms.
type fakeStore struct {
	service.CredentialStore
	connected map[models.Platform]bool
}

func (f *fakeStore) ResolveTarget(ctx context.Context, userID int64, platform models.Platform, targetID string) (service.PublishTarget, error) {
	if !f.connected[platform] {
		return nil, service.ErrNotConnected
	}
	switch platform {
	case models.PlatformFacebook:
		return service.FacebookTarget{PageID: "page", PageToken: "tok"}, nil
	case models.PlatformInstagram:
		return service.InstagramTarget{BusinessID: "ig", PageID: "page", PageToken: "tok"}, nil
	case models.PlatformTwitter:
		return service.TwitterTarget{UserID: "1", AccessToken: "a", AccessSecret: "s"}, nil
	case models.PlatformLinkedIn:
		return service.LinkedInTarget{PersonURN: "urn:li:person:1", AccessToken: "a"}, nil
	}
	return service.YouTubeTarget{UserID: userID}, nil
}

type fakePublisher struct {
	platform models.Platform
	publish  func(content models.Content, caption service.Caption) models.PublishOutcome
	mu       sync.Mutex
	calls    int
}

func (f *fakePublisher) Platform() models.Platform { return f.platform }

func (f *fakePublisher) Publish(ctx context.Context, target service.PublishTarget, content models.Content, caption service.Caption) models.PublishOutcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.publish(content, caption)
}

func succeeding(p models.Platform, id string) *fakePublisher {
	return &fakePublisher{platform: p, publish: func(models.Content, service.Caption) models.PublishOutcome {
		return models.SuccessOutcome(p, id, dispatchNow)
	}}
}

func failing(p models.Platform, msg string) *fakePublisher {
	return &fakePublisher{platform: p, publish: func(models.Content, service.Caption) models.PublishOutcome {
		return models.FailureOutcome(p, errors.New(msg), dispatchNow)
	}}
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []*models.PostHistory
}

func (f *fakeHistory) Create(ctx context.Context, ph *models.PostHistory) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, ph)
	return int64(len(f.entries)), nil
}

func (f *fakeHistory) GetByUserID(ctx context.Context, userID int64) ([]*models.PostHistory, error) {
	return nil, nil
}

type fakeGallery struct {
	mu     sync.Mutex
	err    error
	assets []*models.MediaAsset
}

func (f *fakeGallery) Create(ctx context.Context, ma *models.MediaAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.assets = append(f.assets, ma)
	return nil
}

func (f *fakeGallery) ListByUserID(ctx context.Context, userID int64) ([]*models.MediaAsset, error) {
	return nil, nil
}

type fakeStager struct {
	calls int
}

func (f *fakeStager) Stage(ctx context.Context, userID int64, dataURI string) (string, models.MediaType, error) {
	f.calls++
	return "https://media.example.com/staged.png", models.MediaTypeImage, nil
}

type dispatchFixture struct {
	posts   *fakePosts
	history *fakeHistory
	gallery *fakeGallery
	stager  *fakeStager
	d       *Dispatcher
}

func newFixture(pubs service.Publishers, connected []models.Platform, posts ...*models.ScheduledPost) *dispatchFixture {
	f := &dispatchFixture{
		posts:   newFakePosts(posts...),
		history: &fakeHistory{},
		gallery: &fakeGallery{},
		stager:  &fakeStager{},
	}
	store := &fakeStore{connected: make(map[models.Platform]bool)}
	for _, p := range connected {
		store.connected[p] = true
	}
	cfg := config.Scheduler{DispatchBatch: 10, PublishConcurrency: 4, RetryDelay: 5 * time.Minute, MaxRetries: 3}
	f.d = NewDispatcher(cfg, f.posts, f.history, f.gallery, store, pubs, f.stager)
	f.d.now = func() time.Time { return dispatchNow }
	return f
}

func duePost(id int64, platforms ...models.Platform) *models.ScheduledPost {
	return &models.ScheduledPost{
		ID:           id,
		UserID:       100,
		Caption:      "hello",
		Content:      models.Content{ImageURL: "https://cdn.example.com/a.jpg"},
		Platforms:    platforms,
		ScheduledFor: dispatchNow.Add(-time.Minute),
		Status:       models.PostStatusScheduled,
		MaxRetries:   3,
	}
}

func TestTick_PartialSuccess(t *testing.T) {
	pubs := service.Publishers{
		Facebook:  succeeding(models.PlatformFacebook, "123"),
		Instagram: failing(models.PlatformInstagram, "timeout"),
	}
	f := newFixture(pubs, []models.Platform{models.PlatformFacebook, models.PlatformInstagram},
		duePost(1, models.PlatformFacebook, models.PlatformInstagram))

	f.d.Tick(context.Background())

	post := f.posts.get(1)
	assert.Equal(t, models.PostStatusPosted, post.Status)
	require.NotNil(t, post.Error)
	assert.Equal(t, "Posted to some platforms only", *post.Error)
	require.NotNil(t, post.PostedAt)
	assert.Equal(t, []models.PublishOutcome{
		{Platform: models.PlatformFacebook, Success: true, RemoteID: "123", Timestamp: dispatchNow},
		{Platform: models.PlatformInstagram, Success: false, Error: "timeout", Timestamp: dispatchNow},
	}, post.Outcomes)

	require.Len(t, f.history.entries, 1)
	assert.Equal(t, []models.Platform{models.PlatformFacebook}, f.history.entries[0].Platforms)
	require.Len(t, f.gallery.assets, 1)
	assert.Equal(t, "https://cdn.example.com/a.jpg", f.gallery.assets[0].FileURL)
}

func TestTick_NotConnectedIsRetried(t *testing.T) {
	twitter := succeeding(models.PlatformTwitter, "never")
	f := newFixture(service.Publishers{Twitter: twitter}, nil, duePost(1, models.PlatformTwitter))

	f.d.Tick(context.Background())

	post := f.posts.get(1)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, 1, post.RetryCount)
	assert.Equal(t, dispatchNow.Add(5*time.Minute), post.ScheduledFor)
	require.Len(t, post.Outcomes, 1)
	assert.Equal(t, "not connected", post.Outcomes[0].Error)
	assert.False(t, post.Outcomes[0].Success)
	assert.Zero(t, twitter.calls)
	assert.Empty(t, f.history.entries)
}

func TestTick_RetriesExhausted(t *testing.T) {
	p := duePost(1, models.PlatformTwitter)
	p.RetryCount = 3
	scheduled := p.ScheduledFor
	f := newFixture(service.Publishers{Twitter: succeeding(models.PlatformTwitter, "x")}, nil, p)

	f.d.Tick(context.Background())

	post := f.posts.get(1)
	assert.Equal(t, models.PostStatusFailed, post.Status)
	require.NotNil(t, post.Error)
	assert.Equal(t, "Failed after 3 attempts", *post.Error)
	assert.Equal(t, scheduled, post.ScheduledFor)

	// a failed post is never picked up again
	saves := f.posts.saves
	f.d.Tick(context.Background())
	assert.Equal(t, saves, f.posts.saves)
}

func TestPublishPost_SkipsPostsThatAreNotScheduled(t *testing.T) {
	p := duePost(1, models.PlatformFacebook)
	p.Status = models.PostStatusPosted
	fb := succeeding(models.PlatformFacebook, "1")
	f := newFixture(service.Publishers{Facebook: fb}, []models.Platform{models.PlatformFacebook}, p)

	require.NoError(t, f.d.PublishPost(context.Background(), 1))
	assert.Zero(t, fb.calls)
	assert.Zero(t, f.posts.saves)
}

func TestPublishPost_InFlightGuard(t *testing.T) {
	fb := succeeding(models.PlatformFacebook, "1")
	f := newFixture(service.Publishers{Facebook: fb}, []models.Platform{models.PlatformFacebook}, duePost(1, models.PlatformFacebook))

	f.d.inFlight.Store(int64(1), struct{}{})
	require.NoError(t, f.d.PublishPost(context.Background(), 1))
	assert.Zero(t, fb.calls)
	f.d.inFlight.Delete(int64(1))

	require.NoError(t, f.d.PublishPost(context.Background(), 1))
	require.NoError(t, f.d.PublishPost(context.Background(), 1))
	assert.Equal(t, 1, fb.calls)
}

func TestTick_RecordsResultAfterShutdownStarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fb := &fakePublisher{platform: models.PlatformFacebook, publish: func(models.Content, service.Caption) models.PublishOutcome {
		// shutdown begins while the post is already live
		cancel()
		return models.SuccessOutcome(models.PlatformFacebook, "fb1", dispatchNow)
	}}
	f := newFixture(service.Publishers{Facebook: fb}, []models.Platform{models.PlatformFacebook}, duePost(1, models.PlatformFacebook))

	f.d.Tick(ctx)

	post := f.posts.get(1)
	assert.Equal(t, models.PostStatusPosted, post.Status)
	require.Len(t, post.Outcomes, 1)
	assert.True(t, post.Outcomes[0].Success)
	assert.Len(t, f.history.entries, 1)

	// after a restart the post is not published again
	f.d.Tick(context.Background())
	assert.Equal(t, 1, fb.calls)
}

func TestTick_SkipsPostRescheduledAfterFindDue(t *testing.T) {
	p := duePost(1, models.PlatformTwitter)
	p.ScheduledFor = dispatchNow.Add(5 * time.Minute)
	p.RetryCount = 1
	tw := failing(models.PlatformTwitter, "down")
	f := newFixture(service.Publishers{Twitter: tw}, []models.Platform{models.PlatformTwitter}, p)

	f.d.dispatchOne(context.Background(), 1)

	assert.Zero(t, tw.calls)
	assert.Zero(t, f.posts.saves)
	assert.Equal(t, 1, f.posts.get(1).RetryCount)

	// publish now ignores the schedule
	require.NoError(t, f.d.PublishPost(context.Background(), 1))
	assert.Equal(t, 1, tw.calls)
	assert.Equal(t, 2, f.posts.get(1).RetryCount)
}

func TestTick_SaveFailureMarksPostFailed(t *testing.T) {
	f := newFixture(service.Publishers{
		Facebook: succeeding(models.PlatformFacebook, "1"),
	}, []models.Platform{models.PlatformFacebook}, duePost(1, models.PlatformFacebook), duePost(2, models.PlatformFacebook))
	f.posts.saveErr = errors.New("connection refused")

	f.d.Tick(context.Background())

	assert.Equal(t, "connection refused", f.posts.failed[1])
	assert.Equal(t, "connection refused", f.posts.failed[2])
	assert.Equal(t, 2, f.posts.saves)
}

func TestTick_PanickingPublisherIsIsolated(t *testing.T) {
	boom := &fakePublisher{platform: models.PlatformLinkedIn, publish: func(models.Content, service.Caption) models.PublishOutcome {
		panic("nil map")
	}}
	f := newFixture(service.Publishers{
		LinkedIn: boom,
		Facebook: succeeding(models.PlatformFacebook, "fb1"),
	}, []models.Platform{models.PlatformFacebook, models.PlatformLinkedIn},
		duePost(1, models.PlatformLinkedIn, models.PlatformFacebook))

	f.d.Tick(context.Background())

	post := f.posts.get(1)
	assert.Equal(t, models.PostStatusPosted, post.Status)
	require.Len(t, post.Outcomes, 2)
	assert.False(t, post.Outcomes[0].Success)
	assert.Contains(t, post.Outcomes[0].Error, "nil map")
	assert.True(t, post.Outcomes[1].Success)
}

func TestTick_GalleryFailureDoesNotFailPublish(t *testing.T) {
	f := newFixture(service.Publishers{Facebook: succeeding(models.PlatformFacebook, "1")},
		[]models.Platform{models.PlatformFacebook}, duePost(1, models.PlatformFacebook))
	f.gallery.err = errors.New("duplicate key")

	f.d.Tick(context.Background())

	post := f.posts.get(1)
	assert.Equal(t, models.PostStatusPosted, post.Status)
	assert.Nil(t, post.Error)
	assert.Len(t, f.history.entries, 1)
}

func TestTick_FormatsCaptionPerPlatform(t *testing.T) {
	var got service.Caption
	tw := &fakePublisher{platform: models.PlatformTwitter, publish: func(_ models.Content, c service.Caption) models.PublishOutcome {
		got = c
		return models.SuccessOutcome(models.PlatformTwitter, "t1", dispatchNow)
	}}
	p := duePost(1, models.PlatformTwitter)
	p.Hashtags = []string{"#golang", "news"}
	f := newFixture(service.Publishers{Twitter: tw}, []models.Platform{models.PlatformTwitter}, p)

	f.d.Tick(context.Background())

	assert.Equal(t, "hello\n\n#golang #news", got.Text)
}

func TestTick_StagesInlineMediaOnce(t *testing.T) {
	var seen models.Content
	fb := &fakePublisher{platform: models.PlatformFacebook, publish: func(c models.Content, _ service.Caption) models.PublishOutcome {
		seen = c
		return models.FailureOutcome(models.PlatformFacebook, errors.New("down"), dispatchNow)
	}}
	p := duePost(1, models.PlatformFacebook)
	p.Content = models.Content{ImageURL: "data:image/png;base64,iVBORw0KGgo="}
	f := newFixture(service.Publishers{Facebook: fb}, []models.Platform{models.PlatformFacebook}, p)

	f.d.Tick(context.Background())

	assert.Equal(t, "https://media.example.com/staged.png", seen.ImageURL)
	assert.Equal(t, "https://media.example.com/staged.png", f.posts.get(1).Content.ImageURL)
	assert.Equal(t, 1, f.stager.calls)

	// the retry reuses the stored URL
	f.d.now = func() time.Time { return dispatchNow.Add(10 * time.Minute) }
	f.d.Tick(context.Background())
	assert.Equal(t, 1, f.stager.calls)
	assert.Equal(t, 2, f.posts.get(1).RetryCount)
}

func TestTick_DoesNotOverlap(t *testing.T) {
	f := newFixture(service.Publishers{}, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.posts.findDue = func() {
		close(entered)
		<-release
	}

	done := make(chan struct{})
	go func() {
		f.d.Tick(context.Background())
		close(done)
	}()
	<-entered

	// a second tick returns at once while the first is still running
	f.posts.findDue = nil
	f.d.Tick(context.Background())

	close(release)
	<-done
}

func TestHandlePublishNowTask(t *testing.T) {
	fb := succeeding(models.PlatformFacebook, "1")
	f := newFixture(service.Publishers{Facebook: fb}, []models.Platform{models.PlatformFacebook}, duePost(1, models.PlatformFacebook))

	payload, err := json.Marshal(PublishNowPayload{PostID: 1})
	require.NoError(t, err)
	require.NoError(t, f.d.HandlePublishNowTask(context.Background(), asynq.NewTask(TaskTypePublishNow, payload)))
	assert.Equal(t, models.PostStatusPosted, f.posts.get(1).Status)

	err = f.d.HandlePublishNowTask(context.Background(), asynq.NewTask(TaskTypePublishNow, []byte(`{"post_id":99}`)))
	assert.ErrorIs(t, err, repository.ErrPostNotFound)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = f.d.HandlePublishNowTask(context.Background(), asynq.NewTask(TaskTypePublishNow, []byte(`{`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{}, r.err
}

func TestEnqueuePublishNow(t *testing.T) {
	e := &recordingEnqueuer{}
	require.NoError(t, EnqueuePublishNow(context.Background(), e, 42))
	require.Len(t, e.tasks, 1)
	assert.Equal(t, TaskTypePublishNow, e.tasks[0].Type())
	assert.JSONEq(t, `{"post_id":42}`, string(e.tasks[0].Payload()))

	e.err = asynq.ErrDuplicateTask
	assert.NoError(t, EnqueuePublishNow(context.Background(), e, 42))

	e.err = errors.New("redis down")
	assert.Error(t, EnqueuePublishNow(context.Background(), e, 42))
}
