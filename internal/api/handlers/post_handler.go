package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type PostHandler struct {
	s     service.PostService
	tasks queue.Enqueuer
}

func NewPostHandler(service service.PostService, tasks queue.Enqueuer) *PostHandler {
	return &PostHandler{s: service, tasks: tasks}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var body transfer.PostCreation
	if err := c.BodyParser(&body); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Unable to parse request body")
	}

	post, err := h.s.CreatePost(c.Context(), userID, &body)
	if err != nil {
		return errorJSON(c, errorStatus(err), err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(transfer.PostCreated{
		ID:           post.ID,
		ScheduledFor: post.ScheduledFor.Format(time.RFC3339),
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	posts, err := h.s.List(c.Context(), GetUserID(c))
	if err != nil {
		slog.Error("list posts", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Unable to list posts")
	}
	if posts == nil {
		posts = []*models.ScheduledPost{}
	}
	return c.JSON(posts)
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post id")
	}

	post, err := h.s.PostInfo(c.Context(), int64(postID), GetUserID(c))
	if err != nil {
		return errorJSON(c, errorStatus(err), err.Error())
	}
	return c.JSON(post)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post id")
	}

	if err := h.s.Remove(c.Context(), GetUserID(c), int64(postID)); err != nil {
		return errorJSON(c, errorStatus(err), err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PublishNow queues an immediate publish of a scheduled post.
func (h *PostHandler) PublishNow(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid post id")
	}

	post, err := h.s.PostInfo(c.Context(), int64(postID), GetUserID(c))
	if err != nil {
		return errorJSON(c, errorStatus(err), err.Error())
	}
	if post.Status != models.PostStatusScheduled {
		return errorJSON(c, fiber.StatusConflict, "Post is already "+string(post.Status))
	}

	if err := queue.EnqueuePublishNow(c.Context(), h.tasks, post.ID); err != nil {
		slog.Error("enqueue publish now", "post_id", post.ID, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Error queueing post")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Post queued for publishing",
	})
}

func (h *PostHandler) History(c *fiber.Ctx) error {
	history, err := h.s.History(c.Context(), GetUserID(c))
	if err != nil {
		slog.Error("list posting history", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Unable to list history")
	}
	if history == nil {
		history = []*models.PostHistory{}
	}
	return c.JSON(history)
}

func (h *PostHandler) Gallery(c *fiber.Ctx) error {
	assets, err := h.s.Gallery(c.Context(), GetUserID(c))
	if err != nil {
		slog.Error("list gallery", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "Unable to list gallery")
	}
	if assets == nil {
		assets = []*models.MediaAsset{}
	}
	return c.JSON(assets)
}
