package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	echoapi "github.com/miren-dev/authbridge/api/echo"
	"github.com/miren-dev/authbridge/config"
	"github.com/miren-dev/authbridge/domain"
	"github.com/miren-dev/authbridge/internal/metrics"
	"github.com/miren-dev/authbridge/keys"
	"github.com/miren-dev/authbridge/mongodb"
	"github.com/miren-dev/authbridge/services"
	"github.com/miren-dev/authbridge/storage/memory"
	redisstorage "github.com/miren-dev/authbridge/storage/redis"
	"github.com/miren-dev/authbridge/tracing"
	"github.com/miren-dev/authbridge/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("issuer", cfg.Issuer).
		Str("storage_backend", string(cfg.StorageBackend)).
		Msg("Starting authbridge server")

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracerProvider("authbridge")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize TracerProvider")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to shut down TracerProvider")
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics.Register(registry)

	ctx := context.Background()

	// Storage backends for flow state.
	var (
		requestStore domain.AuthorizationRequestStore
		codeStore    domain.AuthorizationCodeStore
		sessionStore domain.SessionStore
		refreshStore domain.RefreshTokenStore
		clientStore  domain.ClientStore
	)
	switch cfg.StorageBackend {
	case config.StorageTypeRedis:
		store, err := redisstorage.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer store.Close()
		requestStore, codeStore, sessionStore, refreshStore, clientStore = store, store, store, store, store
	default:
		sessions := memory.NewSessionStore()
		defer sessions.Close()
		requestStore = memory.NewRequestStore()
		codeStore = memory.NewCodeStore()
		sessionStore = sessions
		refreshStore = memory.NewRefreshStore()
		clientStore = memory.NewClientStore()
	}

	// Durable client registry when MongoDB is configured.
	if cfg.MongoURI != "" {
		mongoClient, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to disconnect MongoDB client")
			}
		}()
		repo, err := mongodb.NewClientRepository(ctx, db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize client repository")
		}
		clientStore = repo
	}

	keyManager, err := keys.NewManager(cfg.SigningAlgorithm)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize signing keys")
	}

	upstreamProvider, err := upstream.NewProvider(upstream.Config{
		IssuerURL:    cfg.Upstream.IssuerURL,
		ClientID:     cfg.Upstream.ClientID,
		ClientSecret: cfg.Upstream.ClientSecret,
		RedirectURL:  cfg.Issuer + "/oauth/callback",
		Scopes:       cfg.Upstream.Scopes,
		DiscoveryTTL: cfg.Upstream.DiscoveryTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure upstream provider")
	}

	clientService := services.NewClientService(clientStore)
	if len(cfg.StaticClients) > 0 {
		if err := clientService.SeedStatic(ctx, staticClients(cfg.StaticClients)); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed static clients")
		}
	}
	sessionService := services.NewSessionService(sessionStore, cfg.SessionTTL)
	tokenService := services.NewTokenService(cfg.Issuer, keyManager, cfg.AccessTokenTTL)
	rotationService := services.NewRotationService(refreshStore, sessionService, upstreamProvider, cfg.RefreshTokenTTL, cfg.RevokeUpstreamOnReplay)
	flowService := services.NewFlowService(requestStore, codeStore, clientService, sessionService, upstreamProvider, cfg.AuthRequestTTL, cfg.AuthCodeTTL)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	api := echoapi.NewOAuth2API(cfg.Issuer, flowService, tokenService, rotationService, sessionService, clientService).
		WithKeys(keyManager)
	api.RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// staticClients maps configured clients to registry entries.
func staticClients(entries []config.StaticClient) []*domain.Client {
	clients := make([]*domain.Client, 0, len(entries))
	for _, entry := range entries {
		clients = append(clients, &domain.Client{
			ID:           entry.ID,
			SecretHash:   entry.SecretHash,
			Name:         entry.Name,
			RedirectURIs: entry.RedirectURIs,
			Scope:        entry.Scope,
		})
	}
	return clients
}
