package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luminodash/collab/internal/adapters"
	"github.com/luminodash/collab/internal/app"
	"github.com/luminodash/collab/internal/config"
	"github.com/luminodash/collab/internal/identity"
	"github.com/luminodash/collab/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build identity resolver")
	}

	relay := app.NewRelay(st, cfg.Collab.PersistDebounce, cfg.Collab.StoreTimeout, cfg.Collab.MutationPath)
	coord := app.NewCoordinator(st, resolver, relay, app.DropPolicy{}, cfg.Collab.StoreTimeout)

	r := adapters.SetupRouter(ctx, cfg, coord)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("collab server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("no database_url configured, using in-memory store")
		return store.NewMemory(), nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return store.NewPostgres(db), nil
}

func buildResolver(cfg *config.Config) (identity.Resolver, error) {
	var chain identity.Chain
	if cfg.Auth.JWTSecret != "" {
		chain = append(chain, identity.NewJWTResolver(cfg.Auth.JWTSecret))
	}
	if cfg.RedisAddr != "" {
		sessions, err := identity.NewSessionResolver("redis://" + cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		chain = append(chain, sessions)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no identity backend configured: set auth.jwt_secret or redis_addr")
	}
	return chain, nil
}
