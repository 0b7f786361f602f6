package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
)

// FacebookService publishes to Facebook Pages with the page token.
type FacebookService struct {
	graph    *graphAPI
	timeouts config.Timeouts
}

func NewFacebookService(cfg config.Config, ep Endpoints) *FacebookService {
	return &FacebookService{
		graph:    newGraphAPI(ep.Graph, cfg.GraphAPIVersion, models.PlatformFacebook, &http.Client{}),
		timeouts: cfg.Timeouts,
	}
}

func (s *FacebookService) Platform() models.Platform { return models.PlatformFacebook }

func (s *FacebookService) Publish(ctx context.Context, target PublishTarget, content models.Content, caption Caption) models.PublishOutcome {
	return runPublish(models.PlatformFacebook, func() (string, error) {
		t, ok := target.(FacebookTarget)
		if !ok {
			return "", targetMismatch(models.PlatformFacebook, target)
		}

		switch content.Kind() {
		case models.ContentText:
			return s.postFeed(ctx, t, caption.Text, nil)
		case models.ContentImage:
			return s.postPhoto(ctx, t, content.ImageURL, caption.Text)
		case models.ContentVideo:
			return s.postVideo(ctx, t, content.VideoURL, caption.Text)
		case models.ContentCarousel:
			return s.postAlbum(ctx, t, content.Items, caption.Text)
		}
		return "", ErrUnsupportedContent
	})
}

type graphID struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

func (s *FacebookService) postPhoto(ctx context.Context, t FacebookTarget, imageURL, caption string) (string, error) {
	form := url.Values{}
	form.Set("url", imageURL)
	form.Set("caption", caption)
	form.Set("access_token", t.PageToken)

	var out graphID
	if _, err := s.graph.client.send(ctx, formRequest(s.graph.url(t.PageID+"/photos", nil), form, s.timeouts.API), &out); err != nil {
		return "", fmt.Errorf("facebook photo post: %w", err)
	}
	if out.PostID != "" {
		return out.PostID, nil
	}
	return out.ID, nil
}

func (s *FacebookService) postVideo(ctx context.Context, t FacebookTarget, videoURL, caption string) (string, error) {
	form := url.Values{}
	form.Set("file_url", videoURL)
	form.Set("description", caption)
	form.Set("access_token", t.PageToken)

	// Graph fetches the file before answering
	var out graphID
	if _, err := s.graph.client.send(ctx, formRequest(s.graph.url(t.PageID+"/videos", nil), form, s.timeouts.Media), &out); err != nil {
		return "", fmt.Errorf("facebook video post: %w", err)
	}
	return out.ID, nil
}

// postFeed publishes a feed story, optionally with already uploaded photos.
func (s *FacebookService) postFeed(ctx context.Context, t FacebookTarget, message string, photoIDs []string) (string, error) {
	if message == "" && len(photoIDs) == 0 {
		return "", fmt.Errorf("%w: facebook post has neither text nor media", ErrUnsupportedContent)
	}

	form := url.Values{}
	form.Set("message", message)
	form.Set("access_token", t.PageToken)
	for i, id := range photoIDs {
		ref, err := json.Marshal(map[string]string{"media_fbid": id})
		if err != nil {
			return "", err
		}
		form.Set(fmt.Sprintf("attached_media[%d]", i), string(ref))
	}

	var out graphID
	if _, err := s.graph.client.send(ctx, formRequest(s.graph.url(t.PageID+"/feed", nil), form, s.timeouts.API), &out); err != nil {
		return "", fmt.Errorf("facebook feed post: %w", err)
	}
	return out.ID, nil
}

func (s *FacebookService) postAlbum(ctx context.Context, t FacebookTarget, items []models.MediaItem, caption string) (string, error) {
	for _, item := range items {
		if item.Type != models.MediaTypeImage {
			return "", fmt.Errorf("%w: facebook multi-photo posts accept images only", ErrCarouselUnsupported)
		}
	}

	photoIDs := make([]string, 0, len(items))
	for i, item := range items {
		form := url.Values{}
		form.Set("url", item.URL)
		form.Set("published", "false")
		form.Set("access_token", t.PageToken)

		var out graphID
		if _, err := s.graph.client.send(ctx, formRequest(s.graph.url(t.PageID+"/photos", nil), form, s.timeouts.API), &out); err != nil {
			return "", fmt.Errorf("facebook photo %d upload: %w", i+1, err)
		}
		photoIDs = append(photoIDs, out.ID)
	}

	return s.postFeed(ctx, t, caption, photoIDs)
}
