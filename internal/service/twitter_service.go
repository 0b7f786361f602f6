package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	twauth "github.com/dghubble/oauth1/twitter"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
)

const (
	twitterChunkSize     = 4 << 20
	twitterMaxVideoBytes = 512 << 20
)

// TwitterService posts tweets with the v2 API, signing requests with the
// user's OAuth1 token. Media goes through the v1.1 upload endpoint.
type TwitterService struct {
	oauth    *oauth1.Config
	client   *apiClient
	media    *http.Client
	api      string
	upload   string
	timeouts config.Timeouts
}

func NewTwitterService(cfg config.Config, ep Endpoints) *TwitterService {
	oc := oauth1.NewConfig(cfg.TwitterConsumerKey, cfg.TwitterConsumerSecret)
	oc.CallbackURL = cfg.TwitterCallbackURL
	oc.Endpoint = twauth.AuthorizeEndpoint

	return &TwitterService{
		oauth:    oc,
		client:   newAPIClient(models.PlatformTwitter, nil),
		media:    &http.Client{},
		api:      strings.TrimRight(ep.Twitter, "/"),
		upload:   strings.TrimRight(ep.TwitterUpload, "/") + "/1.1/media/upload.json",
		timeouts: cfg.Timeouts,
	}
}

func (s *TwitterService) Platform() models.Platform { return models.PlatformTwitter }

func (s *TwitterService) Publish(ctx context.Context, target PublishTarget, content models.Content, caption Caption) models.PublishOutcome {
	return runPublish(models.PlatformTwitter, func() (string, error) {
		t, ok := target.(TwitterTarget)
		if !ok {
			return "", targetMismatch(models.PlatformTwitter, target)
		}
		if content.Kind() == models.ContentCarousel {
			return "", ErrCarouselUnsupported
		}
		text := strings.TrimSpace(caption.Text)
		if text == "" {
			return "", fmt.Errorf("%w: tweets need text", ErrUnsupportedContent)
		}

		hc := s.oauth.Client(ctx, oauth1.NewToken(t.AccessToken, t.AccessSecret))

		var mediaIDs []string
		if media := content.Media(); len(media) == 1 {
			id, err := s.uploadMedia(ctx, hc, media[0])
			if err != nil {
				slog.Warn("twitter media upload failed, posting text only", "user_id", t.UserID, "error", err)
			} else {
				mediaIDs = []string{id}
			}
		}

		return s.createTweet(ctx, hc, text, mediaIDs)
	})
}

func (s *TwitterService) createTweet(ctx context.Context, hc *http.Client, text string, mediaIDs []string) (string, error) {
	payload := map[string]any{"text": text}
	if len(mediaIDs) > 0 {
		payload["media"] = map[string]any{"media_ids": mediaIDs}
	}

	req, err := jsonRequest(http.MethodPost, s.api+"/2/tweets", payload, s.timeouts.API)
	if err != nil {
		return "", err
	}
	req.Client = hc

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if _, err := s.client.send(ctx, req, &out); err != nil {
		return "", fmt.Errorf("create tweet: %w", err)
	}
	if out.Data.ID == "" {
		return "", errors.New("create tweet: no id returned")
	}
	return out.Data.ID, nil
}

type twitterMedia struct {
	MediaIDString  string `json:"media_id_string"`
	ProcessingInfo *struct {
		State          string `json:"state"`
		CheckAfterSecs int    `json:"check_after_secs"`
		Error          *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"processing_info"`
}

// uploadMedia downloads the item to a temporary file, which is removed
// whether or not the upload works.
func (s *TwitterService) uploadMedia(ctx context.Context, hc *http.Client, item models.MediaItem) (string, error) {
	limit := int64(maxImageBytes)
	if item.Type == models.MediaTypeVideo {
		limit = twitterMaxVideoBytes
	}
	m, err := downloadToTemp(ctx, s.media, item.URL, "tweet-media-*", limit, s.timeouts.Media)
	if err != nil {
		return "", err
	}
	defer m.Remove()

	if item.Type == models.MediaTypeVideo {
		return s.uploadVideo(ctx, hc, m)
	}
	return s.uploadImage(ctx, hc, m)
}

func (s *TwitterService) uploadImage(ctx context.Context, hc *http.Client, m *downloadedMedia) (string, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return "", fmt.Errorf("read media: %w", err)
	}

	body, contentType, err := multipartBody(nil, "media", data)
	if err != nil {
		return "", err
	}
	req := apiRequest{Method: http.MethodPost, URL: s.upload, Body: body, ContentType: contentType, Timeout: s.timeouts.Media, Client: hc}

	var out twitterMedia
	if _, err := s.client.send(ctx, req, &out); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if out.MediaIDString == "" {
		return "", errors.New("upload image: no media id returned")
	}
	return out.MediaIDString, nil
}

// uploadVideo runs the chunked INIT, APPEND, FINALIZE sequence and waits for
// processing to finish.
func (s *TwitterService) uploadVideo(ctx context.Context, hc *http.Client, m *downloadedMedia) (string, error) {
	mediaType := m.ContentType
	if !strings.HasPrefix(mediaType, "video/") {
		mediaType = "video/mp4"
	}

	initForm := url.Values{}
	initForm.Set("command", "INIT")
	initForm.Set("total_bytes", strconv.FormatInt(m.Size, 10))
	initForm.Set("media_type", mediaType)
	initForm.Set("media_category", "tweet_video")
	req := formRequest(s.upload, initForm, s.timeouts.API)
	req.Client = hc

	var media twitterMedia
	if _, err := s.client.send(ctx, req, &media); err != nil {
		return "", fmt.Errorf("video upload init: %w", err)
	}
	if media.MediaIDString == "" {
		return "", errors.New("video upload init: no media id returned")
	}
	mediaID := media.MediaIDString

	file, err := os.Open(m.Path)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	buf := make([]byte, twitterChunkSize)
	for segment := 0; ; segment++ {
		n, readErr := io.ReadFull(file, buf)
		if n > 0 {
			body, contentType, err := multipartBody(map[string]string{
				"command":       "APPEND",
				"media_id":      mediaID,
				"segment_index": strconv.Itoa(segment),
			}, "media", buf[:n])
			if err != nil {
				return "", err
			}
			req := apiRequest{Method: http.MethodPost, URL: s.upload, Body: body, ContentType: contentType, Timeout: s.timeouts.Media, Client: hc}
			if _, err := s.client.send(ctx, req, nil); err != nil {
				return "", fmt.Errorf("video upload append %d: %w", segment, err)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("read media: %w", readErr)
		}
	}

	finalize := url.Values{}
	finalize.Set("command", "FINALIZE")
	finalize.Set("media_id", mediaID)
	req = formRequest(s.upload, finalize, s.timeouts.API)
	req.Client = hc

	media = twitterMedia{}
	if _, err := s.client.send(ctx, req, &media); err != nil {
		return "", fmt.Errorf("video upload finalize: %w", err)
	}

	if err := s.waitForProcessing(ctx, hc, mediaID, media); err != nil {
		return "", err
	}
	return mediaID, nil
}

func (s *TwitterService) waitForProcessing(ctx context.Context, hc *http.Client, mediaID string, media twitterMedia) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Media)
	defer cancel()

	params := url.Values{}
	params.Set("command", "STATUS")
	params.Set("media_id", mediaID)

	for {
		info := media.ProcessingInfo
		if info == nil {
			return nil
		}
		switch info.State {
		case "succeeded":
			return nil
		case "failed":
			msg := "processing failed"
			if info.Error != nil && info.Error.Message != "" {
				msg = info.Error.Message
			}
			return &APIError{Platform: models.PlatformTwitter, StatusCode: http.StatusOK, Message: msg}
		}

		wait := time.Duration(info.CheckAfterSecs) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("video processing: %w", ErrContainerTimeout)
		case <-time.After(wait):
		}

		req := getRequest(s.upload+"?"+params.Encode(), s.timeouts.Status)
		req.Client = hc
		media = twitterMedia{}
		if _, err := s.client.send(ctx, req, &media); err != nil {
			return fmt.Errorf("video processing status: %w", err)
		}
	}
}

func multipartBody(fields map[string]string, fileField string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := mw.CreateFormFile(fileField, "blob")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// RequestToken starts the OAuth1 three-legged flow.
func (s *TwitterService) RequestToken() (string, string, error) {
	return s.oauth.RequestToken()
}

func (s *TwitterService) AuthorizationURL(requestToken string) (string, error) {
	u, err := s.oauth.AuthorizationURL(requestToken)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *TwitterService) AccessToken(requestToken, requestSecret, verifier string) (string, string, error) {
	return s.oauth.AccessToken(requestToken, requestSecret, verifier)
}

// Me returns the id and handle of the token's owner.
func (s *TwitterService) Me(ctx context.Context, accessToken, accessSecret string) (string, string, error) {
	req := getRequest(s.api+"/2/users/me", s.timeouts.API)
	req.Client = s.oauth.Client(ctx, oauth1.NewToken(accessToken, accessSecret))

	var out struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if _, err := s.client.send(ctx, req, &out); err != nil {
		return "", "", fmt.Errorf("fetch twitter user: %w", err)
	}
	return out.Data.ID, out.Data.Username, nil
}
