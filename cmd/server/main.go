package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/api/handlers"
	"github.com/maheshrc27/crosspost/internal/api/middleware"
	job "github.com/maheshrc27/crosspost/internal/jobs"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := config.LoadConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer closeDB(db)

	if err := db.PingContext(ctx); err != nil {
		fatal("database is unreachable", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer rdb.Close()

	cipher, err := utils.NewCipher([]byte(cfg.SecretKey))
	if err != nil {
		fatal("invalid SECRET_KEY", err)
	}

	postRepo := repository.NewPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	historyRepo := repository.NewPostingHistoryRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	handshakeRepo := repository.NewHandshakeRepository(rdb, repository.DefaultHandshakeTTL)

	endpoints := service.DefaultEndpoints()
	store := service.NewCredentialStore(socialAccountRepo, cipher)
	tokenService := service.NewTokenService(*cfg, endpoints)
	twitterService := service.NewTwitterService(*cfg, endpoints)

	publishers := service.Publishers{
		Facebook:  service.NewFacebookService(*cfg, endpoints),
		Instagram: service.NewInstagramService(*cfg, endpoints),
		Twitter:   twitterService,
		LinkedIn:  service.NewLinkedInService(*cfg, endpoints),
		YouTube:   service.NewYoutubeService(*cfg, endpoints, store),
	}

	var stager service.MediaStager
	if cfg.R2.BucketName != "" {
		r2Service, err := service.NewR2Service(ctx, cfg.R2)
		if err != nil {
			fatal("failed to configure media storage", err)
		}
		stager = r2Service
	} else {
		slog.Warn("R2 is not configured, inline media uploads will fail")
	}

	platformService := service.NewPlatformService(*cfg, endpoints, store, handshakeRepo, tokenService, twitterService)
	postService := service.NewPostService(postRepo, historyRepo, mediaAssetRepo)

	dispatcher := queue.NewDispatcher(cfg.Scheduler, postRepo, historyRepo, mediaAssetRepo, store, publishers, stager)
	refreshTokenJob := job.NewTokenRefreshJob(store, tokenService)

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("request failed", "path", c.Path(), "error", err)
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	system := handlers.NewSystemHandler(map[string]handlers.Pinger{
		"postgres": db,
		"redis":    redisPinger{rdb},
	})
	app.Get("/health", system.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	platform := handlers.NewPlatformHandler(platformService, *cfg)
	app.Get("/auth/:platform/callback", platform.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService, client)
	api.Post("/posts", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/:id", post.GetPost)
	api.Delete("/posts/:id", post.RemovePost)
	api.Post("/posts/:id/publish", post.PublishNow)
	api.Get("/history", post.History)
	api.Get("/gallery", post.Gallery)

	// social accounts api routes
	api.Get("/accounts", platform.ListSocialAccounts)
	api.Get("/accounts/:platform/connect", platform.ConnectAccount)
	api.Delete("/accounts/:platform", platform.DeleteSocialAccount)

	var loops sync.WaitGroup
	runLoop := func(p *job.Periodic, runNow bool) {
		loops.Add(1)
		go func() {
			defer loops.Done()
			p.Run(ctx, runNow)
		}()
	}
	runLoop(job.NewPeriodic("dispatch", cfg.Scheduler.DispatchInterval, dispatcher.Tick), true)
	runLoop(job.NewPeriodic("token-refresh", cfg.Scheduler.TokenRefreshInterval, refreshTokenJob.RefreshTokens), false)

	worker := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: 10,
	})
	go func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishNow, dispatcher.HandlePublishNowTask)

		slog.Info("starting the asynq server")
		if err := worker.Run(mux); err != nil {
			fatal("could not start asynq server", err)
		}
	}()

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			fatal("failed to start server", err)
		}
	}()
	slog.Info("server is running", "addr", cfg.HTTPAddr)

	gracefulShutdown(app, worker, cancel, &loops)
}

type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

// gracefulShutdown stops intake first, then waits for in-progress dispatches
// to record their results before the database is closed.
func gracefulShutdown(app *fiber.App, worker *asynq.Server, cancel context.CancelFunc, loops *sync.WaitGroup) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	slog.Info("shutting down server")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	cancel()
	worker.Shutdown()
	loops.Wait()

	slog.Info("server shutdown complete")
}
