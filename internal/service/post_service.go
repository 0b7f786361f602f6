package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

var ErrInvalidPost = errors.New("invalid post")

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.ScheduledPost, error)
	List(ctx context.Context, userID int64) ([]*models.ScheduledPost, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.ScheduledPost, error)
	Remove(ctx context.Context, userID, postID int64) error
	History(ctx context.Context, userID int64) ([]*models.PostHistory, error)
	Gallery(ctx context.Context, userID int64) ([]*models.MediaAsset, error)
}

type postService struct {
	pr repository.ScheduledPostRepository
	ph repository.PostingHistoryRepository
	ma repository.MediaAssetRepository
}

func NewPostService(
	pr repository.ScheduledPostRepository,
	ph repository.PostingHistoryRepository,
	ma repository.MediaAssetRepository) PostService {
	return &postService{
		pr: pr,
		ph: ph,
		ma: ma,
	}
}

func invalidPost(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPost, fmt.Sprintf(format, args...))
}

func parseScheduledTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04", s)
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.ScheduledPost, error) {
	if pc == nil {
		return nil, invalidPost("post creation data is nil")
	}
	if userID == 0 {
		return nil, invalidPost("user is not valid")
	}

	scheduledFor, err := parseScheduledTime(pc.ScheduledFor)
	if err != nil {
		return nil, invalidPost("invalid scheduled time format: %v", err)
	}

	platforms := make([]models.Platform, 0, len(pc.Platforms))
	for _, name := range pc.Platforms {
		p, err := models.ParsePlatform(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, invalidPost("%v", err)
		}
		platforms = append(platforms, p)
	}

	post := &models.ScheduledPost{
		UserID:       userID,
		Caption:      pc.Caption,
		Title:        pc.Title,
		Content:      pc.Content,
		Platforms:    platforms,
		TargetID:     pc.TargetID,
		ScheduledFor: scheduledFor.UTC(),
		Hashtags:     pc.Hashtags,
		MaxRetries:   pc.MaxRetries,
	}
	if err := post.Validate(); err != nil {
		return nil, invalidPost("%v", err)
	}
	if post.Content.Kind() == models.ContentText && strings.TrimSpace(post.Caption) == "" {
		return nil, invalidPost("a post needs a caption or media")
	}
	post.MaxRetries = post.EffectiveMaxRetries()

	if _, err := s.pr.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}

	slog.Info("post scheduled", "post_id", post.ID, "user_id", userID, "scheduled_for", post.ScheduledFor)
	return post, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.ScheduledPost, error) {
	posts, err := s.pr.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing posts: %w", err)
	}
	return posts, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.ScheduledPost, error) {
	if postID == 0 {
		return nil, invalidPost("post id is not valid")
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info: %w", err)
	}
	if post == nil || post.UserID != userID {
		return nil, repository.ErrPostNotFound
	}
	return post, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	if postID == 0 {
		return invalidPost("post id is not valid")
	}

	removed, err := s.pr.Remove(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return repository.ErrPostNotFound
	}
	return nil
}

func (s *postService) History(ctx context.Context, userID int64) ([]*models.PostHistory, error) {
	return s.ph.GetByUserID(ctx, userID)
}

func (s *postService) Gallery(ctx context.Context, userID int64) ([]*models.MediaAsset, error) {
	return s.ma.ListByUserID(ctx, userID)
}
