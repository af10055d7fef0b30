// Package server contains the HTTP and WebSocket handlers for the comments API.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	_ "postscript/docs" // swagger docs
	"postscript/internal/cache"
	"postscript/internal/config"
	"postscript/internal/indexer"
	"postscript/internal/middleware"
	"postscript/internal/models"
	"postscript/internal/notifications"
	"postscript/internal/observability"
	"postscript/internal/queue"
	"postscript/internal/repository"
	"postscript/internal/search"
	"postscript/internal/service"
	"postscript/internal/worker"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// initMetrics registers the HTTP collectors once per process.
func initMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New(serviceName)
	})
	return prom
}

// Deps are the handles the bootstrap layer owns and the server borrows.
type Deps struct {
	DB    *gorm.DB
	Redis *redis.Client
	Index search.Index
	Queue queue.Queue
	Pools *worker.Pools
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	index          search.Index
	pools          *worker.Pools
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownFn     context.CancelFunc
	background     sync.WaitGroup

	userRepo    repository.UserRepository
	postRepo    repository.PostRepository
	commentRepo repository.CommentRepository
	outboxRepo  repository.OutboxRepository

	notifier       *notifications.Notifier
	changeNotifier *notifications.ChangeNotifier
	relay          *notifications.OutboxRelay
	hub            *notifications.CommentHub

	commentService *service.CommentService
	searchService  *service.SearchService
	policy         service.CommentPolicy
	indexWorker    *indexer.Worker
	reindexer      *indexer.Reindexer
}

// NewServer wires repositories, services and the index pipeline around deps.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil || deps.Index == nil || deps.Queue == nil || deps.Pools == nil {
		return nil, fmt.Errorf("server requires a database, search index, queue and worker pools")
	}

	s := &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		index:          deps.Index,
		pools:          deps.Pools,
		promMiddleware: initMetrics("postscript-api"),
		userRepo:       repository.NewUserRepository(deps.DB),
		postRepo:       repository.NewPostRepository(deps.DB, cache.New(deps.Redis)),
		commentRepo:    repository.NewCommentRepository(deps.DB),
		outboxRepo:     repository.NewOutboxRepository(deps.DB),
		policy:         service.NewCommentPolicy(),
	}

	var realtime notifications.RealtimePublisher
	if deps.Redis != nil {
		s.notifier = notifications.NewNotifier(deps.Redis)
		s.hub = notifications.NewCommentHub()
		realtime = s.notifier
	}

	s.changeNotifier = notifications.NewChangeNotifier(deps.Queue, realtime, s.outboxRepo)
	s.relay = notifications.NewOutboxRelay(s.outboxRepo, s.changeNotifier, notifications.RelayConfig{
		Interval: cfg.OutboxRelayInterval,
		Batch:    cfg.OutboxRelayBatch,
	})
	s.commentService = service.NewCommentService(
		s.commentRepo, s.postRepo, repository.NewTransactor(deps.DB), s.changeNotifier)
	s.searchService = service.NewSearchService(deps.Index, s.commentRepo, cfg.SearchResultLimit)
	s.indexWorker = indexer.NewWorker(deps.Queue, s.commentRepo, deps.Index, deps.Pools.Index, indexer.Config{
		Batch:          cfg.QueueBatch,
		MaxAttempts:    cfg.IndexAttempts,
		InitialBackoff: cfg.IndexBackoff,
	})
	s.reindexer = indexer.NewReindexer(s.commentRepo, deps.Index, cfg.ReindexBatchSize, cfg.ReindexRefreshTimeout)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	limitsOff := !s.config.IsProduction()
	searchLimit := middleware.RateLimit(s.redis, middleware.RateLimitConfig{
		Name: "search", Limit: 30, Window: time.Minute, Disabled: limitsOff,
	})
	writeLimit := middleware.RateLimit(s.redis, middleware.RateLimitConfig{
		Name: "comment_write", Limit: 10, Window: time.Minute, Disabled: limitsOff,
	})
	auth := middleware.AuthRequired(s.config.JWTSecret)

	posts := api.Group("/posts")
	posts.Get("/:id/comments", s.ListComments)
	posts.Post("/:id/comments", auth, writeLimit, s.CreateComment)

	comments := api.Group("/comments")
	// Specific /search route before generic /:id
	comments.Get("/search", searchLimit, s.SearchComments)
	comments.Get("/:id", auth, s.ShowComment)
	comments.Put("/:id", auth, writeLimit, s.UpdateComment)
	comments.Patch("/:id/status", auth, s.UpdateCommentStatus)
	comments.Delete("/:id", auth, s.DeleteComment)
	comments.Post("/:id/restore", auth, s.RestoreComment)

	admin := api.Group("/admin", auth)
	admin.Post("/search/reindex", s.ReindexComments)

	ws := api.Group("/ws", middleware.OptionalAuth(s.config.JWTSecret))
	ws.Get("/posts/:id/comments", s.commentFeedUpgrade, s.CommentFeedHandler())
}

// App builds the Fiber app with middleware and routes.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:   "Postscript Comments API",
		BodyLimit: 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			observability.Logger.ErrorContext(c.UserContext(), "unhandled request error", "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// StartBackground starts the index worker, the outbox relay and realtime
// fan-out. They stop when Shutdown is called.
func (s *Server) StartBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownFn = cancel

	s.background.Add(2)
	go func() {
		defer s.background.Done()
		if err := s.indexWorker.Run(ctx); err != nil {
			observability.Logger.Error("index worker stopped", "error", err)
		}
	}()
	go func() {
		defer s.background.Done()
		s.relay.Run(ctx)
	}()

	if s.hub != nil {
		if err := s.hub.StartWiring(ctx, s.notifier); err != nil {
			observability.Logger.Error("failed to start comment feed wiring", "error", err)
		}
	}
}

// Start serves HTTP on the configured port and blocks. Call App and
// StartBackground first.
func (s *Server) Start() error {
	observability.Logger.Info("Server starting", "port", s.config.Port)
	return s.App().Listen(":" + s.config.Port)
}

// Shutdown stops HTTP, background loops and websocket clients. The handles in
// Deps are closed by their owner.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.Logger.Warn("error shutting down HTTP server", "error", err)
		}
	}

	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		observability.Logger.Warn("background loops did not stop before shutdown deadline")
	}

	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			observability.Logger.Warn("error shutting down comment hub", "error", err)
		}
	}

	observability.Logger.Info("Server shutdown complete")
	return nil
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports the store, Redis and index health.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	indexStatus := "healthy"
	docs, err := s.index.Count(ctx)
	if err != nil {
		indexStatus = "unhealthy"
	}

	backlog, _ := s.outboxRepo.CountPending(ctx)

	status := fiber.StatusOK
	overallStatus := "healthy"
	// Redis is optional: without it the queue is in-process and realtime is off.
	if dbStatus != "healthy" || indexStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"index":    indexStatus,
		},
		"index_documents": docs,
		"outbox_backlog":  backlog,
		"pools":           s.pools.Metrics(),
		"time":            time.Now(),
	})
}

// currentUser loads the authenticated user. It returns nil for anonymous requests.
func (s *Server) currentUser(c *fiber.Ctx) (*models.User, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return nil, nil
	}
	user, err := s.userRepo.GetByID(c.UserContext(), userID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewUnauthorizedError("Unknown user")
		}
		return nil, err
	}
	return user, nil
}
