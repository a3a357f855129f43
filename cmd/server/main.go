// Command server runs the live Q&A room server: REST room endpoints, the
// WebSocket transport, and an optional raw TCP transport over one hub.
package main

import (
	"context"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quickna/socket/config"
	"github.com/quickna/socket/providers"
	"github.com/quickna/socket/src/hub"
	"github.com/quickna/socket/src/session"
	"github.com/quickna/socket/src/store"
	"github.com/quickna/socket/src/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

func main() {
	cfg := config.FromEnv()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid database configuration")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("database unreachable")
	}
	pg := store.NewPostgres(pool, logger)

	// The Redis history cache is optional; without it reads go straight to
	// Postgres.
	var messages session.MessageStore = pg
	cacheCfg := store.CacheConfigFromEnv()
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cacheCfg.Addr,
		Password: cacheCfg.Password,
		DB:       cacheCfg.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, history served without cache")
		redisClient.Close()
	} else {
		messages = store.NewCachedMessages(pg, redisClient, cacheCfg, logger)
		logger.Info().Str("redis_addr", cacheCfg.Addr).Msg("history cache connected")
	}

	h := hub.New(logger)
	sess := session.New(h, messages, cfg.HistoryLimit, cfg.PersistTimeout, logger)
	srv := providers.New(h, sess, pg, logger)

	app := fiber.New()
	srv.RegisterRoutes(app)

	httpServer := &fasthttp.Server{Handler: srv.Handler(app)}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(cfg.HTTPAddr); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	var tcpServer *transport.TCPServer
	if cfg.TCPAddr != "" {
		tcpServer = transport.NewTCPServer(cfg.TCPAddr, sess, logger)
		go func() {
			if err := tcpServer.Start(); err != nil {
				logger.Fatal().Err(err).Msg("tcp transport failed")
			}
		}()
	}

	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return httpServer.ShutdownWithContext(ctx)
			},
			"tcp": func(ctx context.Context) error {
				if tcpServer != nil {
					tcpServer.Stop()
				}
				return nil
			},
			"hub": func(ctx context.Context) error {
				h.CloseAll()
				return nil
			},
			"store": func(ctx context.Context) error {
				pg.Close()
				return nil
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("code", exitCode).Msg("server exited")
	os.Exit(exitCode)
}
