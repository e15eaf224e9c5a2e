package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/auth"
	"github.com/ariefcatur/go-order-pipeline/internal/config"
	"github.com/ariefcatur/go-order-pipeline/internal/httpx"
	"github.com/ariefcatur/go-order-pipeline/internal/logging"
	"github.com/ariefcatur/go-order-pipeline/internal/postgres"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg, err := config.Load("auth-service")
	if err != nil {
		bootLog := logging.New("auth-service", "info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.ConnectRetry(ctx, cfg.PostgresDSN, 2*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	router := httpx.NewRouter(log)
	httpx.RegisterReady(router, map[string]httpx.Check{"postgres": db.Ping})
	(&auth.Handler{
		Users:  &auth.UserRepo{DB: db},
		Tokens: auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		Log:    log.With().Str("component", "auth").Logger(),
		Cost:   bcrypt.DefaultCost,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
	if err := httpx.Serve(ctx, srv, cfg.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("http server")
		os.Exit(1)
	}
	log.Info().Msg("stopped")
}
