package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"golang.org/x/oauth2"
)

var (
	ErrNotConnected        = errors.New("not connected")
	ErrCredentialDecrypt   = errors.New("credential decrypt failed")
	ErrCarouselUnsupported = errors.New("carousel posts are not supported")
	ErrUnsupportedContent  = errors.New("unsupported content")
	ErrContainerTimeout    = errors.New("timeout")
)

// PublishTarget is the resolved destination of one platform attempt. The set
// of implementations is closed: one variant per platform.
type PublishTarget interface {
	Platform() models.Platform
	publishTarget()
}

type FacebookTarget struct {
	PageID    string
	PageToken string
}

type InstagramTarget struct {
	BusinessID string
	PageID     string
	PageToken  string
}

type TwitterTarget struct {
	UserID       string
	AccessToken  string
	AccessSecret string
}

type LinkedInTarget struct {
	PersonURN   string
	AccessToken string
}

type YouTubeTarget struct {
	UserID    int64
	ChannelID string
	Token     *oauth2.Token
}

func (FacebookTarget) Platform() models.Platform  { return models.PlatformFacebook }
func (InstagramTarget) Platform() models.Platform { return models.PlatformInstagram }
func (TwitterTarget) Platform() models.Platform   { return models.PlatformTwitter }
func (LinkedInTarget) Platform() models.Platform  { return models.PlatformLinkedIn }
func (YouTubeTarget) Platform() models.Platform   { return models.PlatformYoutube }

func (FacebookTarget) publishTarget()  {}
func (InstagramTarget) publishTarget() {}
func (TwitterTarget) publishTarget()   {}
func (LinkedInTarget) publishTarget()  {}
func (YouTubeTarget) publishTarget()   {}

// Publisher publishes one post to one platform. Publish never panics and
// never returns an error: every failure is a failed outcome.
type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, target PublishTarget, content models.Content, caption Caption) models.PublishOutcome
}

// Publishers holds one adapter per platform.
type Publishers struct {
	Facebook  Publisher
	Instagram Publisher
	Twitter   Publisher
	LinkedIn  Publisher
	YouTube   Publisher
}

// For picks the adapter for a resolved target.
func (p Publishers) For(target PublishTarget) (Publisher, error) {
	var pub Publisher
	switch target.(type) {
	case FacebookTarget:
		pub = p.Facebook
	case InstagramTarget:
		pub = p.Instagram
	case TwitterTarget:
		pub = p.Twitter
	case LinkedInTarget:
		pub = p.LinkedIn
	case YouTubeTarget:
		pub = p.YouTube
	default:
		return nil, fmt.Errorf("no publisher for target %T", target)
	}
	if pub == nil {
		return nil, fmt.Errorf("%s publisher is not configured", target.Platform())
	}
	return pub, nil
}

// runPublish turns fn into an outcome, recovering from panics.
func runPublish(platform models.Platform, fn func() (string, error)) (outcome models.PublishOutcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("publisher panicked", "platform", platform, "panic", r)
			outcome = models.FailureOutcome(platform, fmt.Errorf("internal error: %v", r), time.Now())
		}
	}()

	remoteID, err := fn()
	if err != nil {
		return models.FailureOutcome(platform, err, time.Now())
	}
	return models.SuccessOutcome(platform, remoteID, time.Now())
}

func targetMismatch(want models.Platform, got PublishTarget) error {
	return fmt.Errorf("%s publisher got a %T target", want, got)
}
