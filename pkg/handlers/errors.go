package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang/glog"

	"feedsync/pkg/apperr"
	"feedsync/pkg/services"
)

// fail writes err as {"error": ...} with the status its kind maps to.
func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotOwner):
		status = fiber.StatusForbidden
	case errors.Is(err, apperr.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrAuth):
		status = fiber.StatusUnauthorized
	case errors.Is(err, apperr.ErrStaleReference):
		status = fiber.StatusNotFound
	}

	msg := err.Error()
	if kind := apperr.Kind(err); kind != nil {
		msg = strings.TrimPrefix(msg, kind.Error()+": ")
	}
	if status == fiber.StatusInternalServerError {
		glog.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
