package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stream-billing/internal/alert"
	"stream-billing/internal/billing"
	"stream-billing/internal/config"
	"stream-billing/internal/ledger"
	"stream-billing/internal/logging"
	"stream-billing/internal/pricing"
	"stream-billing/internal/purchase"
	"stream-billing/internal/room"
	"stream-billing/internal/session"
	"stream-billing/internal/store"
	httptransport "stream-billing/internal/transport/http"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	envErr := godotenv.Load()
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("load .env failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Server.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	if cfg.Server.SeedDefaults {
		seed(ctx, st, cfg.Server)
	}

	alertCfg, err := alert.ConfigFrom(cfg.Alert)
	if err != nil {
		log.Fatal().Err(err).Msg("alert config failed")
	}
	alerts := alert.NewManager(alertCfg)
	alerts.Start(ctx)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, catalog reads go to postgres")
		}
	}
	catalog := pricing.NewCachedCatalog(st, rdb, cfg.Redis.CacheTTL)

	led := ledger.New(st).WithNotifier(alerts)
	resolver := pricing.NewResolver(st, st, catalog, led)
	rooms := room.NewMachine(st)
	meter := billing.NewMeter(led, cfg.Billing.Minute)
	sessions := session.NewManager(st, led, resolver, rooms, meter).WithNotifier(alerts)
	rooms.Observe(sessions)
	reconciler := purchase.NewReconciler(st, led).WithNotifier(alerts)

	billing.NewClock(sessions, cfg.Billing.TickInterval, cfg.Billing.Workers).Start(ctx)

	r := httptransport.NewRouter(httptransport.Services{
		DB:        st,
		Ledger:    led,
		Sessions:  sessions,
		Rooms:     rooms,
		Pricing:   pricing.NewAdmin(st),
		Purchases: reconciler,
	}, cfg.Server)
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.AMQP.Enabled {
		consumer := purchase.NewConsumer(cfg.AMQP, reconciler)
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	log.Info().Msg("server stopped")
}

func seed(ctx context.Context, st *store.Store, cfg config.ServerConfig) {
	rate, err := decimal.NewFromString(cfg.DefaultRoomRate)
	if err != nil || !rate.IsPositive() {
		log.Fatal().Str("rate", cfg.DefaultRoomRate).Msg("DEFAULT_ROOM_RATE must be a positive number")
	}
	if err := st.EnsureDefaultRooms(ctx, cfg.PyramidSlots, rate); err != nil {
		log.Fatal().Err(err).Msg("ensure default rooms failed")
	}
	if err := st.EnsureDefaultPackages(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure default packages failed")
	}
}
