package handlers

import (
	"github.com/gofiber/fiber/v2"

	"feedsync/pkg/models"
	"feedsync/pkg/services"
)

type PostHandler struct {
	svc services.PostService
}

func NewPosts(svc services.PostService) *PostHandler {
	return &PostHandler{svc: svc}
}

func caller(c *fiber.Ctx) models.Claims {
	id, _ := c.Locals("user_id").(int)
	name, _ := c.Locals("username").(string)
	return models.Claims{UserID: id, Username: name}
}

func postID(c *fiber.Ctx) (int, bool) {
	id, err := c.ParamsInt("id")
	return id, err == nil && id > 0
}

func (h *PostHandler) List(c *fiber.Ctx) error {
	posts, err := h.svc.List(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(posts)
}

func (h *PostHandler) Create(c *fiber.Ctx) error {
	var req models.CreatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	p, err := h.svc.Create(c.UserContext(), caller(c), req)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *PostHandler) Like(c *fiber.Ctx) error {
	return h.toggleLike(c, true)
}

func (h *PostHandler) Unlike(c *fiber.Ctx) error {
	return h.toggleLike(c, false)
}

func (h *PostHandler) toggleLike(c *fiber.Ctx, isLike bool) error {
	id, ok := postID(c)
	if !ok {
		return badRequest(c, "invalid post id")
	}
	var err error
	if isLike {
		err = h.svc.Like(c.UserContext(), caller(c).UserID, id)
	} else {
		err = h.svc.Unlike(c.UserContext(), caller(c).UserID, id)
	}
	if err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *PostHandler) Update(c *fiber.Ctx) error {
	id, ok := postID(c)
	if !ok {
		return badRequest(c, "invalid post id")
	}
	var req models.UpdatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	p, err := h.svc.UpdateBody(c.UserContext(), caller(c).UserID, id, req.Body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(p)
}

func (h *PostHandler) Delete(c *fiber.Ctx) error {
	id, ok := postID(c)
	if !ok {
		return badRequest(c, "invalid post id")
	}
	if err := h.svc.Delete(c.UserContext(), caller(c).UserID, id); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
