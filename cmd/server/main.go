package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"feedsync/pkg/broker"
	"feedsync/pkg/cache"
	"feedsync/pkg/config"
	"feedsync/pkg/database"
	"feedsync/pkg/handlers"
	"feedsync/pkg/hub"
	"feedsync/pkg/repository"
	"feedsync/pkg/server"
	"feedsync/pkg/services"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg := config.LoadServer()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		glog.Fatalf("[FEED] %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		glog.Fatalf("[FEED] %v", err)
	}

	glog.Infof("[FEED] Connecting to Redis...")
	redis, err := cache.Dial(ctx, cfg.RedisURL)
	if err != nil {
		glog.Fatalf("[FEED] %v", err)
	}
	defer redis.Close()
	// cached pages may predate the schema just migrated
	redis.DelPattern(ctx, "feed:*")
	glog.Infof("[FEED] Redis connected")

	events := broker.New(redis.Client(), cfg.EventChannel)
	wsHub := hub.New()

	// every instance relays the shared event stream to its own sockets
	go func() {
		if err := events.Subscribe(ctx, wsHub.Broadcast, nil); err != nil && ctx.Err() == nil {
			glog.Fatalf("[FEED] event subscription ended: %v", err)
		}
	}()

	auth := services.NewAuthService(repository.NewUserRepository(db), cfg.JWTSecret, cfg.TokenTTL)
	posts := services.NewPostService(repository.NewPostRepository(db), redis, events)

	app := server.NewApp("feed", cfg.AllowOrigins)
	server.Mount(app, server.Routes{
		Posts:         handlers.NewPosts(posts),
		Auth:          handlers.NewAuth(auth),
		Hub:           wsHub,
		Tokens:        auth,
		AuthRateLimit: 10,
	})

	go func() {
		<-ctx.Done()
		glog.Infof("[FEED] shutting down")
		app.Shutdown()
	}()

	addr := "0.0.0.0:" + cfg.Port
	glog.Infof("[FEED] WebSocket: ws://<domain>/ws")
	glog.Infof("[FEED] Server starting on %s", addr)

	if err := app.Listen(addr); err != nil {
		glog.Fatalf("[FEED] Failed to start: %v", err)
	}
}
