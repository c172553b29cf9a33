// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vantage-gg/arena/internal/auth"
	"github.com/vantage-gg/arena/internal/cache"
	"github.com/vantage-gg/arena/internal/database"
	"github.com/vantage-gg/arena/internal/events"
	"github.com/vantage-gg/arena/internal/handlers"
	"github.com/vantage-gg/arena/internal/ledger"
	"github.com/vantage-gg/arena/internal/lobbies"
	"github.com/vantage-gg/arena/internal/middleware"
	"github.com/vantage-gg/arena/internal/queue"
	"github.com/vantage-gg/arena/internal/registry"
)

func main() {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	auth.Init()
	database.ConnectDB()
	defer database.DB.Close()

	if err := cache.ConnectRedis(); err != nil {
		logger.WithError(err).Warn("redis unavailable, event feed and stats cache disabled")
	}

	store := database.NewStore()
	bus := events.NewBus()
	reg := registry.New()

	coord := lobbies.NewCoordinator(reg, store, bus, logger)

	qm := queue.NewManager(queue.Config{
		DefaultCapacity:  envInt("ARENA_DEFAULT_CAPACITY", 2),
		WorkersPerRegion: envInt("ARENA_WORKERS_PER_REGION", 1),
		TickInterval:     2 * time.Second,
	}, reg, coord, store, logger)

	led := ledger.New(coord, ledger.NewIntentExecutor(logger), store, bus, logger)
	coord.SetSettler(led)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recover escrow state, then retry any settlement the previous process
	// dropped between lobby completion and payout. The owning lobbies are
	// restored first: the ledger's distribute/refund guards read lobby
	// status through the coordinator.
	if pools, err := store.OpenPools(ctx); err != nil {
		logger.WithError(err).Error("open pool recovery failed")
	} else if len(pools) > 0 {
		lobbyIDs := make([]uuid.UUID, 0, len(pools))
		for _, p := range pools {
			lobbyIDs = append(lobbyIDs, p.LobbyID)
		}
		if ls, err := store.LobbiesByID(ctx, lobbyIDs); err != nil {
			logger.WithError(err).Error("owning lobby recovery failed")
		} else {
			coord.Restore(ls)
		}
		disputes, err := store.OpenDisputes(ctx)
		if err != nil {
			logger.WithError(err).Error("open dispute recovery failed")
		}
		led.Restore(pools, disputes)
		logger.WithField("pools", len(pools)).Info("restored unsettled pools")
	}
	led.ReDrive(ctx)
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				led.ReDrive(ctx)
			}
		}
	}()

	// Mirror every core event onto the Redis feed.
	if cache.Rdb != nil {
		feed, unsubscribe := bus.Subscribe(uuid.Nil)
		defer unsubscribe()
		go func() {
			for ev := range feed {
				if err := cache.PublishEvent(ctx, ev); err != nil {
					logger.WithError(err).Warn("event feed publish failed")
				}
			}
		}()
	}

	qm.Start(ctx)
	defer qm.Stop()

	mux := http.NewServeMux()
	srv := handlers.NewServer(qm, coord, led, bus, logger)
	srv.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.LogMiddleware(logger)(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", addr)
		errc <- server.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		logger.WithError(err).Error("server exited")
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown incomplete")
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
