package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"golang.org/x/oauth2"
)

// Credential is the decrypted view of a connected account.
type Credential struct {
	UserID          int64
	Platform        models.Platform
	AccountID       string
	AccountUsername string
	AccessToken     string
	AccessSecret    string
	RefreshToken    string
	ObtainedAt      time.Time
	ExpiresAt       *time.Time
}

// Page is a managed Facebook Page with its decrypted page token.
// InstagramBusinessID is empty when no Instagram account is linked.
type Page struct {
	PageID              string
	Name                string
	AccessToken         string
	InstagramBusinessID string
}

type CredentialStore interface {
	// GetPlatformCredential returns nil when the user has no active
	// connection to platform.
	GetPlatformCredential(ctx context.Context, userID int64, platform models.Platform) (*Credential, error)
	GetPages(ctx context.Context, userID int64) ([]Page, error)
	SaveCredential(ctx context.Context, cred *Credential) error
	SavePages(ctx context.Context, userID int64, pages []Page) error
	// SaveFacebookConnection stores a Facebook credential together with its
	// pages, so readers never pair the new user token with old pages.
	SaveFacebookConnection(ctx context.Context, cred *Credential, pages []Page) error
	// RotateToken replaces the tokens of an account only if its access token
	// is still previousAccessToken.
	RotateToken(ctx context.Context, previousAccessToken string, next *Credential) error
	ConnectedUsers(ctx context.Context, platform models.Platform) ([]int64, error)
	ListAccounts(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Disconnect(ctx context.Context, userID int64, platform models.Platform) error
	ResolveTarget(ctx context.Context, userID int64, platform models.Platform, targetID string) (PublishTarget, error)
}

type credentialStore struct {
	sa     repository.SocialAccountRepository
	cipher *utils.Cipher
}

func NewCredentialStore(sa repository.SocialAccountRepository, cipher *utils.Cipher) CredentialStore {
	return &credentialStore{sa: sa, cipher: cipher}
}

func (s *credentialStore) decryptError(userID int64, platform models.Platform, err error) error {
	slog.Error("credential decrypt failed", "user_id", userID, "platform", platform, "reason", "credential_decrypt", "error", err)
	return fmt.Errorf("%w: %s credential of user %d: %v", ErrCredentialDecrypt, platform, userID, err)
}

func (s *credentialStore) GetPlatformCredential(ctx context.Context, userID int64, platform models.Platform) (*Credential, error) {
	sa, err := s.sa.Get(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	if sa == nil || !sa.Connected {
		return nil, nil
	}

	cred := &Credential{
		UserID:          sa.UserID,
		Platform:        sa.Platform,
		AccountID:       sa.AccountID,
		AccountUsername: sa.AccountUsername,
		ObtainedAt:      sa.ObtainedAt,
		ExpiresAt:       sa.TokenExpiresAt,
	}
	if cred.AccessToken, err = s.cipher.Decrypt(sa.AccessToken); err != nil {
		return nil, s.decryptError(userID, platform, err)
	}
	if cred.AccessSecret, err = s.cipher.DecryptOptional(sa.AccessSecret); err != nil {
		return nil, s.decryptError(userID, platform, err)
	}
	if cred.RefreshToken, err = s.cipher.DecryptOptional(sa.RefreshToken); err != nil {
		return nil, s.decryptError(userID, platform, err)
	}

	return cred, nil
}

func (s *credentialStore) GetPages(ctx context.Context, userID int64) ([]Page, error) {
	records, err := s.sa.ListPages(ctx, userID)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(records))
	for _, rec := range records {
		token, err := s.cipher.Decrypt(rec.AccessToken)
		if err != nil {
			return nil, s.decryptError(userID, models.PlatformFacebook, err)
		}
		page := Page{PageID: rec.PageID, Name: rec.Name, AccessToken: token}
		if rec.InstagramBusinessID != nil {
			page.InstagramBusinessID = *rec.InstagramBusinessID
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (s *credentialStore) encryptAccount(cred *Credential) (*models.SocialAccount, error) {
	sa := &models.SocialAccount{
		UserID:          cred.UserID,
		Platform:        cred.Platform,
		Connected:       true,
		AccountID:       cred.AccountID,
		AccountUsername: cred.AccountUsername,
		ObtainedAt:      cred.ObtainedAt,
		TokenExpiresAt:  cred.ExpiresAt,
	}
	if sa.ObtainedAt.IsZero() {
		sa.ObtainedAt = time.Now()
	}

	var err error
	if sa.AccessToken, err = s.cipher.Encrypt(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if sa.AccessSecret, err = s.cipher.EncryptOptional(cred.AccessSecret); err != nil {
		return nil, fmt.Errorf("encrypt access secret: %w", err)
	}
	if sa.RefreshToken, err = s.cipher.EncryptOptional(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}
	return sa, nil
}

func (s *credentialStore) SaveCredential(ctx context.Context, cred *Credential) error {
	if !cred.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", cred.Platform)
	}
	sa, err := s.encryptAccount(cred)
	if err != nil {
		return err
	}
	_, err = s.sa.Upsert(ctx, sa)
	return err
}

func (s *credentialStore) SavePages(ctx context.Context, userID int64, pages []Page) error {
	records, err := s.encryptPages(userID, pages)
	if err != nil {
		return err
	}
	return s.sa.ReplacePages(ctx, userID, records)
}

func (s *credentialStore) SaveFacebookConnection(ctx context.Context, cred *Credential, pages []Page) error {
	if cred.Platform != models.PlatformFacebook {
		return fmt.Errorf("pages belong to facebook, not %q", cred.Platform)
	}
	sa, err := s.encryptAccount(cred)
	if err != nil {
		return err
	}
	records, err := s.encryptPages(cred.UserID, pages)
	if err != nil {
		return err
	}
	_, err = s.sa.UpsertWithPages(ctx, sa, records)
	return err
}

func (s *credentialStore) encryptPages(userID int64, pages []Page) ([]*models.FacebookPage, error) {
	records := make([]*models.FacebookPage, 0, len(pages))
	for _, page := range pages {
		token, err := s.cipher.Encrypt(page.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt page token: %w", err)
		}
		rec := &models.FacebookPage{UserID: userID, PageID: page.PageID, Name: page.Name, AccessToken: token}
		if page.InstagramBusinessID != "" {
			igID := page.InstagramBusinessID
			rec.InstagramBusinessID = &igID
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *credentialStore) RotateToken(ctx context.Context, previousAccessToken string, next *Credential) error {
	current, err := s.sa.Get(ctx, next.UserID, next.Platform)
	if err != nil {
		return err
	}
	if current == nil || !current.Connected {
		return ErrNotConnected
	}

	stored, err := s.cipher.Decrypt(current.AccessToken)
	if err != nil {
		return s.decryptError(next.UserID, next.Platform, err)
	}
	if stored != previousAccessToken {
		return repository.ErrTokenChanged
	}

	sa, err := s.encryptAccount(next)
	if err != nil {
		return err
	}
	return s.sa.SetToken(ctx, next.UserID, next.Platform, current.AccessToken, sa)
}

func (s *credentialStore) ConnectedUsers(ctx context.Context, platform models.Platform) ([]int64, error) {
	accounts, err := s.sa.ListConnected(ctx, platform)
	if err != nil {
		return nil, err
	}
	users := make([]int64, 0, len(accounts))
	for _, acc := range accounts {
		users = append(users, acc.UserID)
	}
	return users, nil
}

func (s *credentialStore) ListAccounts(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return s.sa.ListByUserID(ctx, userID)
}

func (s *credentialStore) Disconnect(ctx context.Context, userID int64, platform models.Platform) error {
	return s.sa.Disconnect(ctx, userID, platform)
}

// ResolveTarget builds the publish target of one platform for a user.
// targetID selects a Page (Facebook, Instagram) and is ignored elsewhere.
func (s *credentialStore) ResolveTarget(ctx context.Context, userID int64, platform models.Platform, targetID string) (PublishTarget, error) {
	switch platform {
	case models.PlatformFacebook, models.PlatformInstagram:
		return s.resolvePageTarget(ctx, userID, platform, targetID)

	case models.PlatformTwitter:
		cred, err := s.requireCredential(ctx, userID, platform)
		if err != nil {
			return nil, err
		}
		return TwitterTarget{UserID: cred.AccountID, AccessToken: cred.AccessToken, AccessSecret: cred.AccessSecret}, nil

	case models.PlatformLinkedIn:
		cred, err := s.requireCredential(ctx, userID, platform)
		if err != nil {
			return nil, err
		}
		return LinkedInTarget{PersonURN: "urn:li:person:" + cred.AccountID, AccessToken: cred.AccessToken}, nil

	case models.PlatformYoutube:
		cred, err := s.requireCredential(ctx, userID, platform)
		if err != nil {
			return nil, err
		}
		token := &oauth2.Token{AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken, TokenType: "Bearer"}
		if cred.ExpiresAt != nil {
			token.Expiry = *cred.ExpiresAt
		}
		return YouTubeTarget{UserID: userID, ChannelID: cred.AccountID, Token: token}, nil
	}

	return nil, fmt.Errorf("unknown platform %q", platform)
}

func (s *credentialStore) requireCredential(ctx context.Context, userID int64, platform models.Platform) (*Credential, error) {
	cred, err := s.GetPlatformCredential(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNotConnected
	}
	return cred, nil
}

func (s *credentialStore) resolvePageTarget(ctx context.Context, userID int64, platform models.Platform, targetID string) (PublishTarget, error) {
	// pages are only usable while the owning Facebook login is connected
	if _, err := s.requireCredential(ctx, userID, models.PlatformFacebook); err != nil {
		return nil, err
	}
	pages, err := s.GetPages(ctx, userID)
	if err != nil {
		return nil, err
	}

	if platform == models.PlatformFacebook {
		for _, page := range pages {
			if targetID == "" || page.PageID == targetID {
				return FacebookTarget{PageID: page.PageID, PageToken: page.AccessToken}, nil
			}
		}
		if targetID != "" {
			return nil, fmt.Errorf("%w: facebook page %s", ErrNotConnected, targetID)
		}
		return nil, fmt.Errorf("%w: no facebook page", ErrNotConnected)
	}

	for _, page := range pages {
		if page.InstagramBusinessID == "" {
			continue
		}
		if targetID == "" || page.PageID == targetID || page.InstagramBusinessID == targetID {
			return InstagramTarget{BusinessID: page.InstagramBusinessID, PageID: page.PageID, PageToken: page.AccessToken}, nil
		}
	}
	return nil, fmt.Errorf("%w: no linked instagram business account", ErrNotConnected)
}

// IsNotConnected reports whether err means the platform cannot be used for
// the user, including credentials that failed to decrypt.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrCredentialDecrypt)
}
