package server

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"feedsync/pkg/handlers"
	"feedsync/pkg/hub"
	"feedsync/pkg/middleware"
)

func NewApp(name, origins string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:           name,
		ReduceMemoryUsage: true,
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(middleware.CORSConfig(origins)))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": name})
	})

	return app
}

type Routes struct {
	Posts  *handlers.PostHandler
	Auth   *handlers.AuthHandler
	Hub    *hub.Hub
	Tokens middleware.TokenParser
	// AuthRateLimit caps login and register calls per IP per minute. Zero
	// disables the limit.
	AuthRateLimit int
}

// Mount registers the feed API on app.
func Mount(app *fiber.App, r Routes) {
	authGroup := app.Group("/auth")
	limited := func(h fiber.Handler) []fiber.Handler {
		if r.AuthRateLimit <= 0 {
			return []fiber.Handler{h}
		}
		return []fiber.Handler{limiter.New(limiter.Config{
			Max:        r.AuthRateLimit,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
		}), h}
	}
	authGroup.Post("/register", limited(r.Auth.Register)...)
	authGroup.Post("/login", limited(r.Auth.Login)...)
	authGroup.Get("/session", r.Auth.Session)

	posts := app.Group("/api/posts")
	posts.Get("/", r.Posts.List)
	priv := posts.Group("", middleware.Auth(r.Tokens))
	priv.Post("/", r.Posts.Create)
	priv.Post("/:id/like", r.Posts.Like)
	priv.Post("/:id/unlike", r.Posts.Unlike)
	priv.Put("/:id", r.Posts.Update)
	priv.Delete("/:id", r.Posts.Delete)

	app.Get("/hub/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"clients":       r.Hub.ClientCount(),
			"authenticated": r.Hub.AuthenticatedCount(),
		})
	})

	app.Use("/ws", middleware.WebSocket(r.Tokens))
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("user_id").(int)
		username, _ := c.Locals("username").(string)
		r.Hub.HandleClientConn(c, userID, username)
	}))
}
