package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xgaming627/chatter-nexus/internal/clock"
	"github.com/xgaming627/chatter-nexus/internal/config"
	"github.com/xgaming627/chatter-nexus/internal/feed"
	feedmemory "github.com/xgaming627/chatter-nexus/internal/feed/memory"
	"github.com/xgaming627/chatter-nexus/internal/handler"
	"github.com/xgaming627/chatter-nexus/internal/hidelist"
	"github.com/xgaming627/chatter-nexus/internal/logger"
	"github.com/xgaming627/chatter-nexus/internal/mention"
	"github.com/xgaming627/chatter-nexus/internal/middleware"
	"github.com/xgaming627/chatter-nexus/internal/model"
	"github.com/xgaming627/chatter-nexus/internal/push"
	"github.com/xgaming627/chatter-nexus/internal/ratelimit"
	"github.com/xgaming627/chatter-nexus/internal/repository"
	"github.com/xgaming627/chatter-nexus/internal/startup"
	"github.com/xgaming627/chatter-nexus/internal/support"
	"github.com/xgaming627/chatter-nexus/internal/ws"
	"github.com/xgaming627/chatter-nexus/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET is_online = false"); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	// The change feed rides Redis pub/sub; "memory" keeps everything in
	// process for single-instance development.
	var broker feed.Broker
	if cfg.Redis.URL == "" || cfg.Redis.URL == "memory" || *dev {
		broker = feedmemory.New()
		logger.Info("change feed: in-memory broker")
	} else {
		broker = startup.ConnectFeedWithRetry(cfg.Redis.URL, 60*time.Second, "")
		logger.Info("change feed: redis broker")
	}
	defer broker.Close()

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool, broker)
	msgRepo := repository.NewMessageRepository(pool, broker)
	suppRepo := repository.NewSupportRepository(pool, broker)
	modRepo := repository.NewModerationRepository(pool)

	hidden, err := hidelist.New(cfg.HideListDir)
	if err != nil {
		logger.Errorf("hide list store: %v", err)
		os.Exit(1)
	}

	pushClient := push.NewClient(cfg.PushServiceURL)
	mentions := mention.NewResolver(mention.ParticipantLookup{
		Conversations: convRepo,
		Users:         userRepo,
	}, pushClient)

	clk := clock.New()
	debounce := ratelimit.NewDebounce(clk, time.Duration(cfg.RateLimit.DebounceSeconds)*time.Second)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(convRepo, msgRepo, userRepo, modRepo, hidden, mentions, debounce, broker, cfg.MaxWSConnections, pushClient)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	supportLimiter := ratelimit.NewWindow(clk, cfg.RateLimit.SupportWindowLimit, time.Duration(cfg.RateLimit.SupportWindowSeconds)*time.Second)
	supportEngine := support.NewEngine(suppRepo, &repoRoles{users: userRepo, flags: modRepo}, supportLimiter, hub, clk)

	convH := handler.NewConversationHandler(convRepo, userRepo, modRepo)
	msgH := handler.NewMessageHandler(msgRepo, convRepo, modRepo, hidden)
	userH := handler.NewUserHandler(userRepo, modRepo)
	suppH := handler.NewSupportHandler(supportEngine, suppRepo, userRepo)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	configH := handler.NewConfigHandler(cfg)
	pushH := handler.NewPushHandler(pushClient)
	internalH := handler.NewInternalHandler(msgRepo, convRepo)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket: a wrapped ResponseWriter loses http.Hijacker
	// and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/config/call", configH.GetCallConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthServiceValidate(cfg.AuthServiceURL, nil))

		r.Get("/api/users/me", userH.GetMe)
		r.Get("/api/users/search", userH.Search)
		r.Get("/api/users/{userID}", userH.GetUser)
		r.Get("/api/users/{userID}/flags", userH.GetFlags)
		r.Put("/api/users/{userID}/flags", userH.SetFlags)
		r.Get("/api/users/me/blocks", userH.ListBlocked)
		r.Post("/api/users/me/blocks", userH.Block)
		r.Delete("/api/users/me/blocks/{userID}", userH.Unblock)

		r.Get("/api/conversations", convH.List)
		r.Post("/api/conversations/direct", convH.CreateDirect)
		r.Post("/api/conversations/group", convH.CreateGroup)
		r.Get("/api/conversations/{conversationID}", convH.Get)
		r.Put("/api/conversations/{conversationID}", convH.UpdateGroup)
		r.Delete("/api/conversations/{conversationID}", convH.Delete)
		r.Get("/api/conversations/{conversationID}/messages", msgH.GetMessages)
		r.Post("/api/conversations/{conversationID}/read", msgH.MarkAsRead)
		r.Post("/api/conversations/{conversationID}/delivered", msgH.MarkAsDelivered)
		r.Delete("/api/messages/{messageID}", msgH.DeleteMessage)
		r.Post("/api/messages/{messageID}/hide", msgH.HideMessage)
		r.Delete("/api/messages/{messageID}/hide", msgH.UnhideMessage)

		r.Post("/api/support/sessions", suppH.Open)
		r.Post("/api/support/sessions/{sessionID}/messages", suppH.Send)
		r.Get("/api/support/sessions/{sessionID}/messages", suppH.History)
		r.Post("/api/support/sessions/{sessionID}/request-end", suppH.RequestEnd)
		r.Post("/api/support/sessions/{sessionID}/confirm-end", suppH.ConfirmEnd)
		r.Post("/api/support/sessions/{sessionID}/force-end", suppH.ForceEnd)
		r.Post("/api/support/sessions/{sessionID}/rating", suppH.Rate)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)

		// Session validation for the call service (query triple).
		r.Get("/api/call/validate", handler.CallValidate)

		r.Get("/ws", wsH.ServeWS)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/system-message", internalH.PostSystemMessage)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// repoRoles answers moderator checks from the user role or the per-user
// moderation flags, whichever grants it.
type repoRoles struct {
	users *repository.UserRepository
	flags *repository.ModerationRepository
}

func (r *repoRoles) IsModerator(ctx context.Context, userID string) (bool, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.Role == model.RoleModerator {
		return true, nil
	}
	flags, err := r.flags.GetFlags(ctx, userID)
	if err != nil {
		return false, err
	}
	return flags.Moderator, nil
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "nexus"
		password = "nexus_secret"
		database = "nexus"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
