// Call signaling service: ring/accept/decline over WebSocket, media room
// sessions, roster webhooks from the media provider.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xgaming627/chatter-nexus/internal/callserver"
	"github.com/xgaming627/chatter-nexus/internal/callsession"
	"github.com/xgaming627/chatter-nexus/internal/callsignal"
	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/config"
	"github.com/xgaming627/chatter-nexus/internal/feed"
	feedmemory "github.com/xgaming627/chatter-nexus/internal/feed/memory"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/middleware"
	"github.com/xgaming627/chatter-nexus/internal/repository"
	"github.com/xgaming627/chatter-nexus/internal/startup"
)

func main() {
	logger.SetPrefix("call")
	cfg := config.Load()
	logger.Infof("starting call service: api_url=%s addr=%s", cfg.APIServiceURL, cfg.ServerAddr)

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "call: ")
	defer pool.Close()

	var broker feed.Broker
	if cfg.Redis.URL == "" || cfg.Redis.URL == "memory" {
		broker = feedmemory.New()
	} else {
		broker = startup.ConnectFeedWithRetry(cfg.Redis.URL, 60*time.Second, "call: ")
	}
	defer broker.Close()

	clk := clock.New()
	callRepo := repository.NewCallRepository(pool, broker)
	calls := callsignal.NewChannel(callRepo, broker, clk)
	calls.SetTimeout(cfg.RingTimeout())

	issuer := callsession.NewHTTPIssuer(cfg.MediaTokenURL)
	system := callserver.NewSystemClient(cfg.APIServiceURL)
	validate := callserver.ValidateViaHTTP(cfg.APIServiceURL, &http.Client{Timeout: 5 * time.Second})
	hub := callserver.NewHub(validate, calls, issuer, system, clk)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/call/ws", hub.ServeWS)
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/webhooks/media", hub.HandleProviderWebhook)
	})

	addr := cfg.ServerAddr
	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: 15 * time.Second, WriteTimeout: 30 * time.Second}
	go func() {
		logger.Infof("call service listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("call: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("call service shutting down")
	srv.Close()
	logger.Info("call service stopped")
}
