package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
)

// TokenInfo is what debug_token reports about a user token.
type TokenInfo struct {
	Valid     bool
	UserID    string
	ExpiresAt *time.Time // nil when the token does not expire
}

type LongLivedToken struct {
	AccessToken string
	ExpiresAt   *time.Time
}

// FacebookTokens is the Graph token lifecycle: introspection, exchange of
// short-lived and long-lived tokens, and the page tokens derived from them.
type FacebookTokens interface {
	Debug(ctx context.Context, userToken string) (*TokenInfo, error)
	ExchangeCode(ctx context.Context, code string) (*LongLivedToken, error)
	ExchangeLongLived(ctx context.Context, userToken string) (*LongLivedToken, error)
	ManagedPages(ctx context.Context, userToken string) ([]Page, error)
	Me(ctx context.Context, userToken string) (id, name string, err error)
}

type TokenService struct {
	cfg   config.Config
	graph *graphAPI
}

func NewTokenService(cfg config.Config, ep Endpoints) *TokenService {
	return &TokenService{
		cfg:   cfg,
		graph: newGraphAPI(ep.Graph, cfg.GraphAPIVersion, models.PlatformFacebook, &http.Client{}),
	}
}

func (s *TokenService) appToken() string {
	return s.cfg.FacebookAppID + "|" + s.cfg.FacebookAppSecret
}

func (s *TokenService) Debug(ctx context.Context, userToken string) (*TokenInfo, error) {
	params := url.Values{}
	params.Set("input_token", userToken)
	params.Set("access_token", s.appToken())

	var out struct {
		Data struct {
			IsValid   bool   `json:"is_valid"`
			UserID    string `json:"user_id"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"data"`
	}
	if _, err := s.graph.client.send(ctx, getRequest(s.graph.url("debug_token", params), s.cfg.Timeouts.Status), &out); err != nil {
		return nil, fmt.Errorf("debug token: %w", err)
	}

	return &TokenInfo{
		Valid:     out.Data.IsValid,
		UserID:    out.Data.UserID,
		ExpiresAt: unixTime(out.Data.ExpiresAt),
	}, nil
}

type graphAccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *TokenService) accessToken(ctx context.Context, params url.Values) (*LongLivedToken, error) {
	params.Set("client_id", s.cfg.FacebookAppID)
	params.Set("client_secret", s.cfg.FacebookAppSecret)

	var out graphAccessToken
	if _, err := s.graph.client.send(ctx, getRequest(s.graph.url("oauth/access_token", params), s.cfg.Timeouts.API), &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("no access token returned")
	}
	return &LongLivedToken{AccessToken: out.AccessToken, ExpiresAt: GetExpiresAt(out.ExpiresIn)}, nil
}

// ExchangeCode completes the login dialog and upgrades the result to a
// long-lived token.
func (s *TokenService) ExchangeCode(ctx context.Context, code string) (*LongLivedToken, error) {
	params := url.Values{}
	params.Set("redirect_uri", s.cfg.FacebookRedirectURI)
	params.Set("code", code)

	short, err := s.accessToken(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return s.ExchangeLongLived(ctx, short.AccessToken)
}

func (s *TokenService) ExchangeLongLived(ctx context.Context, userToken string) (*LongLivedToken, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("fb_exchange_token", userToken)

	token, err := s.accessToken(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("exchange long-lived token: %w", err)
	}
	return token, nil
}

// ManagedPages lists every Page the user manages with its page token and
// linked Instagram Business account, following pagination.
func (s *TokenService) ManagedPages(ctx context.Context, userToken string) ([]Page, error) {
	params := url.Values{}
	params.Set("fields", "id,name,access_token,instagram_business_account")
	params.Set("limit", "100")
	params.Set("access_token", userToken)
	next := s.graph.url("me/accounts", params)

	var pages []Page
	for next != "" {
		var out struct {
			Data []struct {
				ID                       string `json:"id"`
				Name                     string `json:"name"`
				AccessToken              string `json:"access_token"`
				InstagramBusinessAccount *struct {
					ID string `json:"id"`
				} `json:"instagram_business_account"`
			} `json:"data"`
			Paging struct {
				Next string `json:"next"`
			} `json:"paging"`
		}
		if _, err := s.graph.client.send(ctx, getRequest(next, s.cfg.Timeouts.API), &out); err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}

		for _, p := range out.Data {
			page := Page{PageID: p.ID, Name: p.Name, AccessToken: p.AccessToken}
			if p.InstagramBusinessAccount != nil {
				page.InstagramBusinessID = p.InstagramBusinessAccount.ID
			}
			pages = append(pages, page)
		}
		next = out.Paging.Next
	}

	return pages, nil
}

func (s *TokenService) Me(ctx context.Context, userToken string) (string, string, error) {
	params := url.Values{}
	params.Set("fields", "id,name")
	params.Set("access_token", userToken)

	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if _, err := s.graph.client.send(ctx, getRequest(s.graph.url("me", params), s.cfg.Timeouts.API), &out); err != nil {
		return "", "", fmt.Errorf("fetch profile: %w", err)
	}
	return out.ID, out.Name, nil
}
