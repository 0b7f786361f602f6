package handlers

import (
	"log/slog"
	"net/url"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type PlatformHandler struct {
	ps  service.PlatformService
	cfg config.Config
}

func NewPlatformHandler(ps service.PlatformService, cfg config.Config) *PlatformHandler {
	return &PlatformHandler{ps: ps, cfg: cfg}
}

// ConnectAccount returns the URL the browser should open to link a platform.
func (h *PlatformHandler) ConnectAccount(c *fiber.Ctx) error {
	platform, err := models.ParsePlatform(c.Params("platform"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	authURL, err := h.ps.GetAuthURL(c.Context(), GetUserID(c), platform)
	if err != nil {
		slog.Error("build auth url", "platform", platform, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Unable to start connection")
	}
	return c.JSON(transfer.ConnectURL{URL: authURL})
}

func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	platform, err := models.ParsePlatform(c.Params("platform"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	userID, err := h.ps.Callback(c.Context(), platform, service.CallbackParams{
		Code:          c.Query("code"),
		State:         c.Query("state"),
		OAuthToken:    c.Query("oauth_token"),
		OAuthVerifier: c.Query("oauth_verifier"),
		Error:         c.Query("error"),
	})

	query := url.Values{}
	if err != nil {
		slog.Warn("connect callback failed", "platform", platform, "user_id", userID, "error", err)
		query.Set("error", platform.String())
	} else {
		slog.Info("platform connected", "platform", platform, "user_id", userID)
		query.Set("connected", platform.String())
	}

	return c.Redirect(h.cfg.FrontendURL+"/dashboard/accounts?"+query.Encode(), fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	accounts, err := h.ps.List(c.Context(), GetUserID(c))
	if err != nil {
		slog.Error("list social accounts", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to fetch social accounts")
	}

	out := make([]transfer.Account, 0, len(accounts))
	for _, sa := range accounts {
		out = append(out, transfer.AccountFromModel(sa))
	}
	return c.JSON(out)
}

func (h *PlatformHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	platform, err := models.ParsePlatform(c.Params("platform"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.ps.Disconnect(c.Context(), GetUserID(c), platform); err != nil {
		slog.Error("disconnect account", "platform", platform, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Unable to delete social account")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
