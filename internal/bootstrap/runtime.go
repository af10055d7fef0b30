// Package bootstrap builds the process-wide handles every command shares.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"postscript/internal/cache"
	"postscript/internal/config"
	"postscript/internal/database"
	"postscript/internal/models"
	"postscript/internal/observability"
	"postscript/internal/queue"
	"postscript/internal/search"
	"postscript/internal/server"
	"postscript/internal/worker"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	ServiceName string
	// SkipQueue leaves Runtime.Queue nil for commands that never dispatch events.
	SkipQueue bool
}

// Runtime owns the store, Redis, search index, queue and worker pools.
type Runtime struct {
	Config   *config.Config
	Database *database.Database
	Redis    *redis.Client
	Index    search.Index
	Queue    queue.Queue
	Pools    *worker.Pools

	shutdownTracing func(context.Context) error
}

// InitRuntime connects every dependency cfg names. On error everything opened
// so far is closed again.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (rt *Runtime, err error) {
	observability.SetupLogger(cfg.Env, cfg.LogLevel)

	rt = &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
			rt = nil
		}
	}()

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "postscript"
	}
	rt.shutdownTracing, err = observability.InitTracing(observability.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampler,
	})
	if err != nil {
		return rt, fmt.Errorf("tracing init failed: %w", err)
	}

	rt.Database, err = database.Connect(ctx, cfg)
	if err != nil {
		return rt, fmt.Errorf("database connection failed: %w", err)
	}

	needRedis := !opts.SkipQueue && strings.EqualFold(cfg.QueueDriver, "redis")
	rt.Redis, err = cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		if needRedis {
			return rt, fmt.Errorf("redis connection failed: %w", err)
		}
		// Without Redis: no post cache, no realtime feed, rate limits fail open.
		observability.Logger.WarnContext(ctx, "Redis unavailable, continuing without it", "error", err)
		rt.Redis, err = nil, nil
	}

	rt.Index, err = search.OpenBleve(cfg.SearchIndexPath)
	if err != nil {
		return rt, fmt.Errorf("search index open failed: %w", err)
	}

	if !opts.SkipQueue {
		if rt.Queue, err = openQueue(ctx, cfg, rt.Redis); err != nil {
			return rt, err
		}
	}

	rt.Pools, err = worker.NewPools(ctx, worker.PoolConfig{
		IndexPoolSize:      cfg.IndexWorkers,
		BackgroundPoolSize: worker.DefaultPoolConfig().BackgroundPoolSize,
	})
	if err != nil {
		return rt, fmt.Errorf("worker pools init failed: %w", err)
	}

	if err := ensureDevRootAdmin(ctx, cfg, rt.Database.DB); err != nil {
		return rt, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	return rt, nil
}

func openQueue(ctx context.Context, cfg *config.Config, rdb *redis.Client) (queue.Queue, error) {
	if strings.EqualFold(cfg.QueueDriver, "memory") {
		return queue.NewMemoryQueue(cfg.QueueBlock), nil
	}
	q, err := queue.NewRedisStreamQueue(ctx, rdb, queue.RedisStreamConfig{
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
		Consumer: consumerName(),
		Block:    cfg.QueueBlock,
		MinIdle:  cfg.QueueMinIdle,
	})
	if err != nil {
		return nil, fmt.Errorf("queue init failed: %w", err)
	}
	return q, nil
}

// consumerName is unique per process so stream entries are claimed per replica.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "indexer"
	}
	return host + "-" + uuid.NewString()[:8]
}

// ServerDeps hands the runtime's handles to the HTTP server.
func (rt *Runtime) ServerDeps() server.Deps {
	return server.Deps{
		DB:    rt.Database.DB,
		Redis: rt.Redis,
		Index: rt.Index,
		Queue: rt.Queue,
		Pools: rt.Pools,
	}
}

// Close releases everything in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) {
	if rt == nil {
		return
	}
	if rt.Pools != nil {
		rt.Pools.Shutdown()
	}
	if rt.Index != nil {
		if err := rt.Index.Close(); err != nil {
			observability.Logger.Warn("search index close failed", "error", err)
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			observability.Logger.Warn("redis close failed", "error", err)
		}
	}
	if rt.Database != nil {
		rt.Database.Close()
	}
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(ctx); err != nil {
			observability.Logger.Warn("tracing shutdown failed", "error", err)
		}
	}
}

func ensureDevRootAdmin(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapRoot {
		return nil
	}

	name := strings.TrimSpace(cfg.DevRootName)
	if name == "" {
		name = "postscript_root"
	}
	email := strings.TrimSpace(strings.ToLower(cfg.DevRootEmail))
	if email == "" {
		email = "root@postscript.local"
	}
	password := cfg.DevRootPassword
	if password == "" {
		return fmt.Errorf("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash root password: %w", err)
	}

	if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var root models.User
		findErr := tx.First(&root, 1).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			root = models.User{
				ID:       1,
				Name:     name,
				Email:    email,
				Password: string(hashedPassword),
				IsAdmin:  true,
			}
			if err := tx.Create(&root).Error; err != nil {
				return err
			}
		case findErr != nil:
			return findErr
		default:
			if err := tx.Model(&models.User{}).Where("id = ?", 1).Update("is_admin", true).Error; err != nil {
				return err
			}
		}

		// Explicit ID insertion leaves the PostgreSQL sequence behind.
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec(`
				SELECT setval(
					pg_get_serial_sequence('users', 'id'),
					GREATEST((SELECT COALESCE(MAX(id), 1) FROM users), 1),
					true
				)
			`).Error; err != nil {
				return fmt.Errorf("failed to reset users sequence: %w", err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	observability.Logger.InfoContext(ctx, "development root admin ensured", "user_id", 1, "email", email)
	return nil
}
