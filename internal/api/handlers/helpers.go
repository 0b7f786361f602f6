package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
)

func GetUserID(c *fiber.Ctx) int64 {
	raw, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(raw, 10, 64)
	return userID
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidPost):
		return fiber.StatusBadRequest
	case errors.Is(err, repository.ErrPostNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrHandshakeNotFound):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}
