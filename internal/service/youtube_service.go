package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const youtubeChunkSize = 8 << 20

var youtubeScopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/youtube.upload",
	"https://www.googleapis.com/auth/youtube.readonly",
}

// TokenRotator persists a token that was refreshed while publishing.
type TokenRotator interface {
	RotateToken(ctx context.Context, previousAccessToken string, next *Credential) error
}

// YoutubeService uploads videos with the YouTube Data API. Expired access
// tokens are refreshed on the way and the new token is stored back.
type YoutubeService struct {
	oauth    *oauth2.Config
	tokens   TokenRotator
	media    *http.Client
	endpoint string
	timeouts config.Timeouts
}

func NewYoutubeService(cfg config.Config, ep Endpoints, tokens TokenRotator) *YoutubeService {
	return &YoutubeService{
		oauth:    googleOAuthConfig(cfg),
		tokens:   tokens,
		media:    &http.Client{},
		endpoint: ep.YouTube,
		timeouts: cfg.Timeouts,
	}
}

func googleOAuthConfig(cfg config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		Scopes:       youtubeScopes,
		Endpoint:     google.Endpoint,
	}
}

func (s *YoutubeService) Platform() models.Platform { return models.PlatformYoutube }

func (s *YoutubeService) Publish(ctx context.Context, target PublishTarget, content models.Content, caption Caption) models.PublishOutcome {
	return runPublish(models.PlatformYoutube, func() (string, error) {
		t, ok := target.(YouTubeTarget)
		if !ok {
			return "", targetMismatch(models.PlatformYoutube, target)
		}
		switch content.Kind() {
		case models.ContentVideo:
		case models.ContentCarousel:
			return "", ErrCarouselUnsupported
		default:
			return "", fmt.Errorf("%w: youtube accepts video only", ErrUnsupportedContent)
		}

		ts := s.oauth.TokenSource(ctx, t.Token)
		defer s.storeRefreshedToken(ctx, t, ts)

		return s.uploadVideo(ctx, oauth2.NewClient(ctx, ts), content.VideoURL, caption)
	})
}

func (s *YoutubeService) uploadVideo(ctx context.Context, hc *http.Client, videoURL string, caption Caption) (string, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create youtube client: %w", err)
	}

	m, err := downloadToTemp(ctx, s.media, videoURL, "video-*.mp4", maxVideoBytes, s.timeouts.Media)
	if err != nil {
		return "", err
	}
	defer m.Remove()

	file, err := os.Open(m.Path)
	if err != nil {
		return "", fmt.Errorf("open video file: %w", err)
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       caption.Title,
			Description: caption.Text,
			Tags:        caption.Tags,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.timeouts.Media)
	defer cancel()

	// files larger than one chunk go through a resumable session
	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(file, googleapi.ChunkSize(youtubeChunkSize)).
		Context(uploadCtx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return "", &APIError{Platform: models.PlatformYoutube, StatusCode: gerr.Code, Message: gerr.Message}
		}
		return "", fmt.Errorf("upload video: %w", err)
	}
	return resp.Id, nil
}

func (s *YoutubeService) storeRefreshedToken(ctx context.Context, t YouTubeTarget, ts oauth2.TokenSource) {
	if s.tokens == nil {
		return
	}
	current, err := ts.Token()
	if err != nil || current.AccessToken == t.Token.AccessToken {
		return
	}

	next := &Credential{
		UserID:       t.UserID,
		Platform:     models.PlatformYoutube,
		AccountID:    t.ChannelID,
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		ObtainedAt:   time.Now(),
	}
	if !current.Expiry.IsZero() {
		expiry := current.Expiry
		next.ExpiresAt = &expiry
	}
	models.BestEffortOf(s.tokens.RotateToken(ctx, t.Token.AccessToken, next)).
		Discard("store refreshed youtube token", "user_id", t.UserID)
}
