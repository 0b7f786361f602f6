package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
)

const (
	instagramPublishAttempts = 3
	instagramCarouselMax     = 10
)

// InstagramService publishes through the Instagram Business account linked to
// a Facebook Page: create a container, wait for it, publish it.
type InstagramService struct {
	graph          *graphAPI
	timeouts       config.Timeouts
	publishBackoff time.Duration
}

func NewInstagramService(cfg config.Config, ep Endpoints) *InstagramService {
	return &InstagramService{
		graph:          newGraphAPI(ep.Graph, cfg.GraphAPIVersion, models.PlatformInstagram, &http.Client{}),
		timeouts:       cfg.Timeouts,
		publishBackoff: time.Second,
	}
}

func (s *InstagramService) Platform() models.Platform { return models.PlatformInstagram }

func (s *InstagramService) Publish(ctx context.Context, target PublishTarget, content models.Content, caption Caption) models.PublishOutcome {
	return runPublish(models.PlatformInstagram, func() (string, error) {
		t, ok := target.(InstagramTarget)
		if !ok {
			return "", targetMismatch(models.PlatformInstagram, target)
		}

		var (
			containerID string
			err         error
		)
		switch content.Kind() {
		case models.ContentImage:
			containerID, err = s.createImageContainer(ctx, t, content.ImageURL, caption.Text, false)
		case models.ContentVideo:
			containerID, err = s.createVideoContainer(ctx, t, content.VideoURL, caption.Text, false)
		case models.ContentCarousel:
			containerID, err = s.createCarouselContainer(ctx, t, content.Items, caption.Text)
		default:
			return "", fmt.Errorf("%w: instagram posts need an image or video", ErrUnsupportedContent)
		}
		if err != nil {
			return "", err
		}

		return s.publishContainer(ctx, t, containerID)
	})
}

func (s *InstagramService) createContainer(ctx context.Context, t InstagramTarget, form url.Values) (string, error) {
	form.Set("access_token", t.PageToken)

	var out graphID
	if _, err := s.graph.client.send(ctx, formRequest(s.graph.url(t.BusinessID+"/media", nil), form, s.timeouts.API), &out); err != nil {
		return "", fmt.Errorf("instagram container: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("instagram container: no id returned")
	}
	return out.ID, nil
}

func (s *InstagramService) createImageContainer(ctx context.Context, t InstagramTarget, imageURL, caption string, carouselItem bool) (string, error) {
	form := url.Values{}
	form.Set("image_url", imageURL)
	if carouselItem {
		form.Set("is_carousel_item", "true")
	} else {
		form.Set("caption", caption)
	}
	return s.createContainer(ctx, t, form)
}

func (s *InstagramService) createVideoContainer(ctx context.Context, t InstagramTarget, videoURL, caption string, carouselItem bool) (string, error) {
	form := url.Values{}
	form.Set("video_url", videoURL)
	if carouselItem {
		form.Set("media_type", "VIDEO")
		form.Set("is_carousel_item", "true")
	} else {
		form.Set("media_type", "REELS")
		form.Set("share_to_feed", "true")
		form.Set("caption", caption)
	}

	id, err := s.createContainer(ctx, t, form)
	if err != nil {
		return "", err
	}
	if err := s.waitForContainer(ctx, t, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *InstagramService) createCarouselContainer(ctx context.Context, t InstagramTarget, items []models.MediaItem, caption string) (string, error) {
	if len(items) < 2 || len(items) > instagramCarouselMax {
		return "", fmt.Errorf("%w: instagram carousels take 2 to %d items, got %d",
			ErrUnsupportedContent, instagramCarouselMax, len(items))
	}

	children := make([]string, 0, len(items))
	for i, item := range items {
		var (
			id  string
			err error
		)
		switch item.Type {
		case models.MediaTypeVideo:
			id, err = s.createVideoContainer(ctx, t, item.URL, "", true)
		default:
			id, err = s.createImageContainer(ctx, t, item.URL, "", true)
		}
		if err != nil {
			return "", fmt.Errorf("carousel item %d: %w", i+1, err)
		}
		children = append(children, id)
	}

	form := url.Values{}
	form.Set("media_type", "CAROUSEL")
	form.Set("children", strings.Join(children, ","))
	form.Set("caption", caption)

	id, err := s.createContainer(ctx, t, form)
	if err != nil {
		return "", err
	}
	if err := s.waitForContainer(ctx, t, id); err != nil {
		return "", err
	}
	return id, nil
}

type containerStatus struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

// waitForContainer polls until the container is FINISHED. ERROR and EXPIRED
// end the wait with the platform's status text; the poll ceiling ends it with
// ErrContainerTimeout.
func (s *InstagramService) waitForContainer(ctx context.Context, t InstagramTarget, containerID string) error {
	pollCtx, cancel := context.WithTimeout(ctx, s.timeouts.IGPollCeiling)
	defer cancel()

	params := url.Values{}
	params.Set("fields", "status_code,status")
	params.Set("access_token", t.PageToken)
	endpoint := s.graph.url(containerID, params)

	for {
		var status containerStatus
		_, err := s.graph.client.send(pollCtx, getRequest(endpoint, s.timeouts.Status), &status)
		switch {
		case err == nil:
			switch status.StatusCode {
			case "FINISHED", "PUBLISHED":
				return nil
			case "ERROR", "EXPIRED":
				msg := status.Status
				if msg == "" {
					msg = status.StatusCode
				}
				return &APIError{
					Platform:   models.PlatformInstagram,
					StatusCode: http.StatusOK,
					Message:    fmt.Sprintf("container %s %s: %s", containerID, status.StatusCode, msg),
				}
			}
		case IsRejection(err):
			return fmt.Errorf("instagram container status: %w", err)
		default:
			slog.Warn("instagram container status check failed", "container_id", containerID, "error", err)
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrContainerTimeout
		case <-time.After(s.timeouts.IGPollInterval):
		}
	}
}

// publishContainer retries transport failures with exponential backoff. A
// platform rejection is returned at once.
func (s *InstagramService) publishContainer(ctx context.Context, t InstagramTarget, containerID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", t.PageToken)
	endpoint := s.graph.url(t.BusinessID+"/media_publish", nil)

	backoff := s.publishBackoff
	var lastErr error
	for attempt := 1; attempt <= instagramPublishAttempts; attempt++ {
		var out graphID
		_, err := s.graph.client.send(ctx, formRequest(endpoint, form, s.timeouts.API), &out)
		if err == nil {
			if out.ID == "" {
				return containerID, nil
			}
			return out.ID, nil
		}
		if IsRejection(err) {
			return "", fmt.Errorf("instagram publish: %w", err)
		}

		lastErr = err
		if attempt == instagramPublishAttempts {
			break
		}
		slog.Warn("instagram publish failed, retrying", "container_id", containerID, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return "", fmt.Errorf("instagram publish after %d attempts: %w", instagramPublishAttempts, lastErr)
}
