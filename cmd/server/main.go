package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lolcoach/coach-relay-go/internal/audio"
	"github.com/lolcoach/coach-relay-go/internal/coach"
	"github.com/lolcoach/coach-relay-go/internal/collab"
	"github.com/lolcoach/coach-relay-go/internal/config"
	"github.com/lolcoach/coach-relay-go/internal/database"
	"github.com/lolcoach/coach-relay-go/internal/gateway"
	"github.com/lolcoach/coach-relay-go/internal/handler"
	"github.com/lolcoach/coach-relay-go/internal/jobs"
	"github.com/lolcoach/coach-relay-go/internal/middleware"
	"github.com/lolcoach/coach-relay-go/internal/redis"
	"github.com/lolcoach/coach-relay-go/internal/relay"
	"github.com/lolcoach/coach-relay-go/internal/repository"
	"github.com/lolcoach/coach-relay-go/internal/service"
	"github.com/lolcoach/coach-relay-go/internal/telemetry"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tokenRepo repository.TokenRepository
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
		if err := db.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.Migrate(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		cancel()
		log.Info().Msg("database connected")

		tokenRepo = repository.NewTokenRepository(db.DB)
	} else {
		log.Warn().Msg("DATABASE_URL not set, tokens are kept in memory")
		tokenRepo = repository.NewMemoryTokenRepository(nil)
	}

	var (
		redisClient *redis.Client
		limiter     middleware.Limiter = middleware.NewRateLimiter()
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	}

	var renderer audio.Renderer = collab.LogRenderer{}
	if cfg.RendererURL != "" {
		renderer = collab.NewRenderer(cfg.RendererURL, cfg.BotAPISecret)
	}

	broker := service.NewTokenBroker(tokenRepo, cfg.TokenTTL())
	registry := relay.NewRegistry(redisClient)
	store := telemetry.NewStore(cfg.SnapshotGrace())
	queue := audio.NewQueue(renderer, cfg.AudioQueueDepth)

	deps := coach.Deps{
		Snapshots:   store,
		Delivery:    queue,
		Connections: registry,
	}
	if cfg.AnalyzerURL != "" {
		analyzer := collab.NewAnalyzer(cfg.AnalyzerURL, cfg.BotAPISecret)
		deps.Analyzer = analyzer
		deps.Tips = analyzer
		deps.Reporter = analyzer
	} else {
		log.Warn().Msg("ANALYZER_URL not set, coaching answers fall back to apologies")
	}

	rooms := coach.NewManager(deps, coach.Options{
		CoachName:       cfg.DefaultCoachName,
		TipHistorySize:  cfg.TipHistorySize,
		AnalysisTimeout: config.CollaboratorTimeout,
	})

	telemetryGateway := gateway.New(broker, registry, store, rooms, gateway.Options{
		HandshakeTimeout: cfg.HandshakeTimeout(),
		IdleTimeout:      cfg.IdleTimeout(),
	})

	botAuthMiddleware := middleware.NewBotAuthMiddleware(cfg.BotAPISecret)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.CommandBodyLimit)
	rateLimitMiddleware := middleware.NewRoomRateLimitMiddleware(limiter, cfg.CommandRateLimitPerMin)

	tokenHandler := handler.NewTokenHandler(broker, rooms, registry)
	roomHandler := handler.NewRoomHandler(rooms, rateLimitMiddleware.Handler)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"timestamp":   time.Now().UnixMilli(),
			"connections": registry.Total(),
			"rooms":       rooms.Len(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	// Long-lived; must not sit behind the request timeout.
	r.Get("/v1/telemetry", telemetryGateway.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(botAuthMiddleware.Handler)
		r.Use(bodyLimitMiddleware.Handler)

		r.Mount("/v1/tokens", tokenHandler.Routes())
		r.Mount("/v1/rooms", roomHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(broker, store, config.CleanupJobInterval)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: config.ServerReadTimeout,
		IdleTimeout:       config.ServerIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		cleanupJob.Start()
		<-gctx.Done()
		cleanupJob.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown.
		registry.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
		rooms.Shutdown()
		if err := queue.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("audio queue did not drain")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
