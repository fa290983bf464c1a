package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/bricerising/tablegate/internal/auth"
	"github.com/bricerising/tablegate/internal/cache"
	"github.com/bricerising/tablegate/internal/config"
	"github.com/bricerising/tablegate/internal/events"
	"github.com/bricerising/tablegate/internal/logger"
	"github.com/bricerising/tablegate/internal/metrics"
	"github.com/bricerising/tablegate/internal/ratelimit"
	"github.com/bricerising/tablegate/internal/registry"
	"github.com/bricerising/tablegate/internal/rpc"
	"github.com/bricerising/tablegate/internal/subscription"
	ws "github.com/bricerising/tablegate/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger isn't configured yet; stderr is all we have.
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	instanceID := uuid.NewString()
	log.Info().Str("instanceId", instanceID).Msg("starting tablegate gateway")

	store, err := cache.NewCache(cache.Config{URL: cfg.RedisURL, Enabled: cfg.RedisURL != ""})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer store.Close()
	if !store.IsEnabled() {
		log.Warn().Msg("REDIS_URL not set; shared indices and rate limits are disabled")
	}

	verifier, err := auth.NewVerifier(auth.Config{
		PublicKeyPEM:  cfg.JWTPublicKey,
		OIDCIssuerURL: cfg.OIDCIssuerURL,
		HS256Secret:   cfg.JWTHS256Secret,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure token verifier")
	}

	gameConn, err := rpc.Dial(cfg.GRPCGameAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial game service")
	}
	defer gameConn.Close()
	playerConn, err := rpc.Dial(cfg.GRPCPlayerAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial player service")
	}
	defer playerConn.Close()
	eventConn, err := rpc.Dial(cfg.GRPCEventAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial event service")
	}
	defer eventConn.Close()

	bus, err := events.NewBus(cfg.NATSURL, instanceID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer bus.Close()

	shared := registry.NewShared(store)
	subIndex := subscription.New(store)

	gw := ws.New(ws.Deps{
		Config:     cfg,
		InstanceID: instanceID,
		Store:      store,
		Local:      registry.NewLocal(),
		Shared:     shared,
		SubIndex:   subIndex,
		Bus:        bus,
		Limiter:    ratelimit.New(store, cfg.RateLimitWindow(), cfg.RateLimitMax),
		Game:       rpc.NewGameClient(gameConn),
		Player:     rpc.NewPlayerClient(playerConn),
		Event:      rpc.NewEventClient(eventConn),
		Verifier:   verifier,
		Metrics:    metrics.New(prometheus.DefaultRegisterer),
	})

	if err := bus.Init(gw.BusHandlers()); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to event bus")
	}

	janitor := registry.NewJanitor(shared, subIndex, instanceID, cfg.InstanceHeartbeat(), cfg.InstanceStaleAfter())
	if err := janitor.Start(cfg.SweepCron); err != nil {
		log.Fatal().Err(err).Msg("failed to start registry janitor")
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	gw.RegisterRoutes(router)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "instanceId": instanceID})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown did not finish cleanly")
	}

	janitor.Stop()
	bus.Close()
	log.Info().Msg("gateway stopped")
}
