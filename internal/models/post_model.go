package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostStatus string

const (
	PostStatusScheduled PostStatus = "scheduled"
	PostStatusPosted    PostStatus = "posted"
	PostStatusFailed    PostStatus = "failed"
)

const DefaultMaxRetries = 3

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

type MediaItem struct {
	Type MediaType `json:"type"`
	URL  string    `json:"url"`
}

// ContentKind is derived from whichever payload field of Content is set.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentVideo    ContentKind = "video"
	ContentCarousel ContentKind = "carousel"
)

// Content holds at most one of a single image, a single video or an ordered
// carousel. An empty Content is a text-only post.
type Content struct {
	ImageURL string      `json:"image_url,omitempty"`
	VideoURL string      `json:"video_url,omitempty"`
	Items    []MediaItem `json:"items,omitempty"`
}

func (c Content) Kind() ContentKind {
	switch {
	case len(c.Items) > 0:
		return ContentCarousel
	case c.VideoURL != "":
		return ContentVideo
	case c.ImageURL != "":
		return ContentImage
	}
	return ContentText
}

// Media flattens the payload into an ordered list of items.
func (c Content) Media() []MediaItem {
	switch c.Kind() {
	case ContentCarousel:
		return c.Items
	case ContentVideo:
		return []MediaItem{{Type: MediaTypeVideo, URL: c.VideoURL}}
	case ContentImage:
		return []MediaItem{{Type: MediaTypeImage, URL: c.ImageURL}}
	}
	return nil
}

func (c Content) Validate() error {
	set := 0
	if c.ImageURL != "" {
		set++
	}
	if c.VideoURL != "" {
		set++
	}
	if len(c.Items) > 0 {
		set++
	}
	if set > 1 {
		return errors.New("content must hold only one of image_url, video_url or items")
	}
	for i, item := range c.Items {
		if item.Type != MediaTypeImage && item.Type != MediaTypeVideo {
			return fmt.Errorf("carousel item %d has unknown type %q", i, item.Type)
		}
		if strings.TrimSpace(item.URL) == "" {
			return fmt.Errorf("carousel item %d has no url", i)
		}
	}
	return nil
}

type ScheduledPost struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"user_id"`
	Caption      string           `json:"caption"`
	Title        string           `json:"title"`
	Content      Content          `json:"content"`
	Platforms    []Platform       `json:"platforms"`
	TargetID     string           `json:"target_id,omitempty"` // page or channel id
	ScheduledFor time.Time        `json:"scheduled_for"`
	Hashtags     []string         `json:"hashtags"`
	Status       PostStatus       `json:"status"`
	Outcomes     []PublishOutcome `json:"outcomes"`
	Error        *string          `json:"error,omitempty"`
	RetryCount   int              `json:"retry_count"`
	MaxRetries   int              `json:"max_retries"`
	PostedAt     *time.Time       `json:"posted_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (p *ScheduledPost) Validate() error {
	if p.UserID == 0 {
		return errors.New("post has no owner")
	}
	if len(p.Platforms) == 0 {
		return errors.New("at least one platform is required")
	}
	seen := make(map[Platform]struct{}, len(p.Platforms))
	for _, platform := range p.Platforms {
		if !platform.Valid() {
			return fmt.Errorf("unknown platform %q", platform)
		}
		if _, dup := seen[platform]; dup {
			return fmt.Errorf("platform %q listed twice", platform)
		}
		seen[platform] = struct{}{}
	}
	if p.ScheduledFor.IsZero() {
		return errors.New("scheduled time is required")
	}
	return p.Content.Validate()
}

func (p *ScheduledPost) EffectiveMaxRetries() int {
	if p.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

// PostHistory is the denormalized record written once a post goes out.
type PostHistory struct {
	ID              int64            `json:"id"`
	UserID          int64            `json:"user_id"`
	ScheduledPostID int64            `json:"scheduled_post_id"`
	Caption         string           `json:"caption"`
	Media           []MediaItem      `json:"media"`
	Platforms       []Platform       `json:"platforms"` // platforms that succeeded
	Outcomes        []PublishOutcome `json:"outcomes"`
	PostedAt        time.Time        `json:"posted_at"`
}

// MediaAsset is a reusable gallery entry.
type MediaAsset struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	FileURL   string    `json:"file_url"`
	FileType  MediaType `json:"file_type"`
	CreatedAt time.Time `json:"created_at"`
}
