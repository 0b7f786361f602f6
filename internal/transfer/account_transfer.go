package transfer

import (
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

// Account is the public view of a connected account. Tokens never leave the
// server.
type Account struct {
	Platform       models.Platform `json:"platform"`
	Connected      bool            `json:"connected"`
	AccountID      string          `json:"account_id"`
	Username       string          `json:"username"`
	TokenExpiresAt *time.Time      `json:"token_expires_at,omitempty"`
}

func AccountFromModel(sa *models.SocialAccount) Account {
	return Account{
		Platform:       sa.Platform,
		Connected:      sa.Connected,
		AccountID:      sa.AccountID,
		Username:       sa.AccountUsername,
		TokenExpiresAt: sa.TokenExpiresAt,
	}
}

type ConnectURL struct {
	URL string `json:"url"`
}
