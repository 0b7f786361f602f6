package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
)

// LinkedInService shares posts on the member's feed through the UGC API.
type LinkedInService struct {
	client   *apiClient
	media    *http.Client
	api      string
	timeouts config.Timeouts
}

func NewLinkedInService(cfg config.Config, ep Endpoints) *LinkedInService {
	return &LinkedInService{
		client:   newAPIClient(models.PlatformLinkedIn, nil),
		media:    &http.Client{},
		api:      strings.TrimRight(ep.LinkedIn, "/"),
		timeouts: cfg.Timeouts,
	}
}

func (s *LinkedInService) Platform() models.Platform { return models.PlatformLinkedIn }

func (s *LinkedInService) Publish(ctx context.Context, target PublishTarget, content models.Content, caption Caption) models.PublishOutcome {
	return runPublish(models.PlatformLinkedIn, func() (string, error) {
		t, ok := target.(LinkedInTarget)
		if !ok {
			return "", targetMismatch(models.PlatformLinkedIn, target)
		}

		var asset string
		switch content.Kind() {
		case models.ContentCarousel:
			return "", ErrCarouselUnsupported
		case models.ContentVideo:
			return "", fmt.Errorf("%w: linkedin shares take text or a single image", ErrUnsupportedContent)
		case models.ContentImage:
			var err error
			asset, err = s.uploadImage(ctx, t, content.ImageURL)
			if err != nil {
				slog.Warn("linkedin image upload failed, sharing text only", "error", err)
				asset = ""
			}
		}

		if strings.TrimSpace(caption.Text) == "" && asset == "" {
			return "", fmt.Errorf("%w: linkedin share has neither text nor image", ErrUnsupportedContent)
		}
		return s.share(ctx, t, caption.Text, asset)
	})
}

func (s *LinkedInService) headers(t LinkedInTarget) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.AccessToken)
	h.Set("X-Restli-Protocol-Version", "2.0.0")
	return h
}

type registerUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism struct {
			HTTPRequest struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}

// uploadImage registers an upload for the member, then PUTs the image bytes
// to the returned URL.
func (s *LinkedInService) uploadImage(ctx context.Context, t LinkedInTarget, imageURL string) (string, error) {
	payload := map[string]any{
		"registerUploadRequest": map[string]any{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   t.PersonURN,
			"serviceRelationships": []map[string]string{
				{"relationshipType": "OWNER", "identifier": "urn:li:userGeneratedContent"},
			},
		},
	}
	req, err := jsonRequest(http.MethodPost, s.api+"/v2/assets?action=registerUpload", payload, s.timeouts.API)
	if err != nil {
		return "", err
	}
	req.Header = s.headers(t)

	var reg registerUploadResponse
	if _, err := s.client.send(ctx, req, &reg); err != nil {
		return "", fmt.Errorf("register upload: %w", err)
	}
	uploadURL := reg.Value.UploadMechanism.HTTPRequest.UploadURL
	if uploadURL == "" || reg.Value.Asset == "" {
		return "", errors.New("register upload: no upload url returned")
	}

	data, contentType, err := fetchMedia(ctx, s.media, imageURL, s.timeouts.Media)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	put := apiRequest{
		Method:      http.MethodPut,
		URL:         uploadURL,
		Body:        data,
		ContentType: contentType,
		Header:      http.Header{"Authorization": []string{"Bearer " + t.AccessToken}},
		Timeout:     s.timeouts.Media,
	}
	if _, err := s.client.send(ctx, put, nil); err != nil {
		return "", fmt.Errorf("upload image bytes: %w", err)
	}

	return reg.Value.Asset, nil
}

func (s *LinkedInService) share(ctx context.Context, t LinkedInTarget, text, asset string) (string, error) {
	shareContent := map[string]any{
		"shareCommentary":    map[string]string{"text": text},
		"shareMediaCategory": "NONE",
	}
	if asset != "" {
		shareContent["shareMediaCategory"] = "IMAGE"
		shareContent["media"] = []map[string]any{{"status": "READY", "media": asset}}
	}

	payload := map[string]any{
		"author":          t.PersonURN,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]any{"com.linkedin.ugc.ShareContent": shareContent},
		"visibility":      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}
	req, err := jsonRequest(http.MethodPost, s.api+"/v2/ugcPosts", payload, s.timeouts.API)
	if err != nil {
		return "", err
	}
	req.Header = s.headers(t)

	var out struct {
		ID string `json:"id"`
	}
	header, err := s.client.send(ctx, req, &out)
	if err != nil {
		return "", fmt.Errorf("linkedin share: %w", err)
	}
	if id := header.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	if out.ID == "" {
		return "", errors.New("linkedin share: no id returned")
	}
	return out.ID, nil
}
