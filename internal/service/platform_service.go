package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

var ErrHandshakeNotFound = errors.New("connect request expired or unknown")

var facebookScopes = []string{
	"pages_show_list",
	"pages_manage_posts",
	"pages_read_engagement",
	"business_management",
	"instagram_basic",
	"instagram_content_publish",
}

// TwitterAuthorizer runs the OAuth1 connect flow.
type TwitterAuthorizer interface {
	RequestToken() (token, secret string, err error)
	AuthorizationURL(requestToken string) (string, error)
	AccessToken(requestToken, requestSecret, verifier string) (token, secret string, err error)
	Me(ctx context.Context, accessToken, accessSecret string) (id, username string, err error)
}

// CallbackParams are the query parameters a platform redirects back with.
type CallbackParams struct {
	Code          string
	State         string
	OAuthToken    string
	OAuthVerifier string
	Error         string
}

// handshake is the pending state of one connect attempt.
type handshake struct {
	UserID   int64           `json:"user_id"`
	Platform models.Platform `json:"platform"`
	Secret   string          `json:"secret,omitempty"`
}

type PlatformService interface {
	GetAuthURL(ctx context.Context, userID int64, platform models.Platform) (string, error)
	Callback(ctx context.Context, platform models.Platform, params CallbackParams) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Disconnect(ctx context.Context, userID int64, platform models.Platform) error
}

type platformService struct {
	cfg        config.Config
	store      CredentialStore
	handshakes repository.HandshakeRepository
	facebook   FacebookTokens
	twitter    TwitterAuthorizer
	linkedin   *apiClient
	endpoints  Endpoints
}

func NewPlatformService(
	cfg config.Config,
	ep Endpoints,
	store CredentialStore,
	handshakes repository.HandshakeRepository,
	facebook FacebookTokens,
	twitter TwitterAuthorizer) PlatformService {
	return &platformService{
		cfg:        cfg,
		store:      store,
		handshakes: handshakes,
		facebook:   facebook,
		twitter:    twitter,
		linkedin:   newAPIClient(models.PlatformLinkedIn, nil),
		endpoints:  ep,
	}
}

func (s *platformService) facebookOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    s.cfg.FacebookAppID,
		RedirectURL: s.cfg.FacebookRedirectURI,
		Scopes:      facebookScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL: fmt.Sprintf("https://www.facebook.com/%s/dialog/oauth", s.cfg.GraphAPIVersion),
		},
	}
}

func (s *platformService) linkedinOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.LinkedInClientID,
		ClientSecret: s.cfg.LinkedInClientSecret,
		RedirectURL:  s.cfg.LinkedInRedirectURI,
		Scopes:       []string{"openid", "profile", "w_member_social"},
		Endpoint:     linkedin.Endpoint,
	}
}

func (s *platformService) GetAuthURL(ctx context.Context, userID int64, platform models.Platform) (string, error) {
	if userID == 0 {
		return "", errors.New("user is not valid")
	}

	switch platform {
	case models.PlatformTwitter:
		token, secret, err := s.twitter.RequestToken()
		if err != nil {
			slog.Error("twitter request token", "user_id", userID, "error", err)
			return "", err
		}
		if err := s.handshakes.Put(ctx, handshakeKey(platform, token), handshake{UserID: userID, Platform: platform, Secret: secret}); err != nil {
			return "", err
		}
		return s.twitter.AuthorizationURL(token)

	case models.PlatformFacebook, models.PlatformInstagram, models.PlatformLinkedIn, models.PlatformYoutube:
		state, err := utils.GenerateRandomKey(32)
		if err != nil {
			return "", err
		}
		// instagram is reached through the facebook login
		if platform == models.PlatformInstagram {
			platform = models.PlatformFacebook
		}
		if err := s.handshakes.Put(ctx, handshakeKey(platform, state), handshake{UserID: userID, Platform: platform}); err != nil {
			return "", err
		}

		switch platform {
		case models.PlatformFacebook:
			return s.facebookOAuthConfig().AuthCodeURL(state), nil
		case models.PlatformLinkedIn:
			return s.linkedinOAuthConfig().AuthCodeURL(state), nil
		default:
			return googleOAuthConfig(s.cfg).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
		}
	}

	return "", fmt.Errorf("unknown platform %q", platform)
}

func handshakeKey(platform models.Platform, token string) string {
	return platform.String() + ":" + token
}

func (s *platformService) takeHandshake(ctx context.Context, platform models.Platform, token string) (*handshake, error) {
	if token == "" {
		return nil, ErrHandshakeNotFound
	}
	var hs handshake
	found, err := s.handshakes.Take(ctx, handshakeKey(platform, token), &hs)
	if err != nil {
		return nil, err
	}
	if !found || hs.Platform != platform {
		return nil, ErrHandshakeNotFound
	}
	return &hs, nil
}

// Callback completes a connect flow and returns the user it belongs to.
func (s *platformService) Callback(ctx context.Context, platform models.Platform, params CallbackParams) (int64, error) {
	if platform == models.PlatformInstagram {
		platform = models.PlatformFacebook
	}

	key := params.State
	if platform == models.PlatformTwitter {
		key = params.OAuthToken
	}
	hs, err := s.takeHandshake(ctx, platform, key)
	if err != nil {
		return 0, err
	}
	if params.Error != "" {
		return hs.UserID, fmt.Errorf("%s connect denied: %s", platform, params.Error)
	}

	switch platform {
	case models.PlatformFacebook:
		err = s.connectFacebook(ctx, hs.UserID, params.Code)
	case models.PlatformTwitter:
		err = s.connectTwitter(ctx, hs, params)
	case models.PlatformLinkedIn:
		err = s.connectLinkedIn(ctx, hs.UserID, params.Code)
	case models.PlatformYoutube:
		err = s.connectYoutube(ctx, hs.UserID, params.Code)
	default:
		err = fmt.Errorf("unknown platform %q", platform)
	}
	if err != nil {
		slog.Error("connect account", "user_id", hs.UserID, "platform", platform, "error", err)
		return hs.UserID, err
	}

	slog.Info("account connected", "user_id", hs.UserID, "platform", platform)
	return hs.UserID, nil
}

func (s *platformService) connectFacebook(ctx context.Context, userID int64, code string) error {
	if code == "" {
		return errors.New("code is empty")
	}
	token, err := s.facebook.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	id, name, err := s.facebook.Me(ctx, token.AccessToken)
	if err != nil {
		return err
	}
	pages, err := s.facebook.ManagedPages(ctx, token.AccessToken)
	if err != nil {
		return err
	}

	return s.store.SaveFacebookConnection(ctx, &Credential{
		UserID:          userID,
		Platform:        models.PlatformFacebook,
		AccountID:       id,
		AccountUsername: name,
		AccessToken:     token.AccessToken,
		ObtainedAt:      time.Now(),
		ExpiresAt:       token.ExpiresAt,
	}, pages)
}

func (s *platformService) connectTwitter(ctx context.Context, hs *handshake, params CallbackParams) error {
	if params.OAuthVerifier == "" {
		return errors.New("oauth verifier is empty")
	}
	token, secret, err := s.twitter.AccessToken(params.OAuthToken, hs.Secret, params.OAuthVerifier)
	if err != nil {
		return err
	}
	id, username, err := s.twitter.Me(ctx, token, secret)
	if err != nil {
		return err
	}

	return s.store.SaveCredential(ctx, &Credential{
		UserID:          hs.UserID,
		Platform:        models.PlatformTwitter,
		AccountID:       id,
		AccountUsername: username,
		AccessToken:     token,
		AccessSecret:    secret,
		ObtainedAt:      time.Now(),
	})
}

func (s *platformService) connectLinkedIn(ctx context.Context, userID int64, code string) error {
	if code == "" {
		return errors.New("code is empty")
	}
	token, err := s.linkedinOAuthConfig().Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	req := getRequest(strings.TrimRight(s.endpoints.LinkedIn, "/")+"/v2/userinfo", s.cfg.Timeouts.API)
	req.Header = http.Header{"Authorization": []string{"Bearer " + token.AccessToken}}
	var info struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if _, err := s.linkedin.send(ctx, req, &info); err != nil {
		return fmt.Errorf("fetch linkedin profile: %w", err)
	}

	cred := &Credential{
		UserID:          userID,
		Platform:        models.PlatformLinkedIn,
		AccountID:       info.Sub,
		AccountUsername: info.Name,
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		ObtainedAt:      time.Now(),
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		cred.ExpiresAt = &expiry
	}
	return s.store.SaveCredential(ctx, cred)
}

func (s *platformService) connectYoutube(ctx context.Context, userID int64, code string) error {
	if code == "" {
		return errors.New("code is empty")
	}
	conf := googleOAuthConfig(s.cfg)
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if token.RefreshToken == "" {
		return errors.New("refresh token is empty")
	}

	opts := []option.ClientOption{option.WithTokenSource(conf.TokenSource(ctx, token))}
	if s.endpoints.YouTube != "" {
		opts = append(opts, option.WithEndpoint(s.endpoints.YouTube))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create youtube client: %w", err)
	}
	channels, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("fetch channel: %w", err)
	}
	if len(channels.Items) == 0 {
		return errors.New("google account has no youtube channel")
	}
	channel := channels.Items[0]

	cred := &Credential{
		UserID:       userID,
		Platform:     models.PlatformYoutube,
		AccountID:    channel.Id,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ObtainedAt:   time.Now(),
	}
	if channel.Snippet != nil {
		cred.AccountUsername = channel.Snippet.Title
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		cred.ExpiresAt = &expiry
	}
	return s.store.SaveCredential(ctx, cred)
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	if userID == 0 {
		return nil, errors.New("user is not valid")
	}
	return s.store.ListAccounts(ctx, userID)
}

func (s *platformService) Disconnect(ctx context.Context, userID int64, platform models.Platform) error {
	if userID == 0 {
		return errors.New("user is not valid")
	}
	if !platform.Valid() {
		return fmt.Errorf("unknown platform %q", platform)
	}
	if err := s.store.Disconnect(ctx, userID, platform); err != nil {
		return err
	}
	slog.Info("account disconnected", "user_id", userID, "platform", platform)
	return nil
}
