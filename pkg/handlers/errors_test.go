package handlers

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/gofiber/fiber/v2"

	"feedsync/pkg/apperr"
	"feedsync/pkg/services"
)

func TestFailStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{apperr.Validation("body must not be empty"), 400, `{"error":"body must not be empty"}`},
		{apperr.Auth("invalid credential"), 401, `{"error":"invalid credential"}`},
		{services.ErrNotOwner, 403, `{"error":"not the author of this post"}`},
		{apperr.StaleReference("post 9 not found"), 404, `{"error":"post 9 not found"}`},
		{errors.New("pq: connection refused"), 500, `{"error":"internal error"}`},
	}

	for _, tc := range cases {
		app := fiber.New()
		app.Get("/", func(c *fiber.Ctx) error { return fail(c, tc.err) })

		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, err, nil)
		assert.Equal(t, resp.StatusCode, tc.status)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, string(body), tc.body)
	}
}
