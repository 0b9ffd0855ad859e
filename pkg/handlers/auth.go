package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"feedsync/pkg/models"
	"feedsync/pkg/services"
)

type AuthHandler struct {
	svc services.AuthService
}

func NewAuth(svc services.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var creds models.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return badRequest(c, "invalid body")
	}
	resp, err := h.svc.Register(c.UserContext(), creds)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var creds models.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return badRequest(c, "invalid body")
	}
	resp, err := h.svc.Login(c.UserContext(), creds)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

// Session answers who the bearer credential belongs to.
func (h *AuthHandler) Session(c *fiber.Ctx) error {
	auth := c.Get("Authorization")
	token := ""
	if strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimSpace(auth[7:])
	}
	user, err := h.svc.Session(c.UserContext(), token)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(user)
}
