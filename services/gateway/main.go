// The messaging gateway: WebSocket endpoint plus the small HTTP surface
// around it (file serving, push subscriptions, internal booking notify).
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

	"github.com/localmart/messaging/internal/auth"
	"github.com/localmart/messaging/internal/config"
	"github.com/localmart/messaging/internal/crypto"
	"github.com/localmart/messaging/internal/fileserver"
	"github.com/localmart/messaging/internal/handler"
	"github.com/localmart/messaging/internal/logger"
	"github.com/localmart/messaging/internal/middleware"
	"github.com/localmart/messaging/internal/model"
	"github.com/localmart/messaging/internal/push"
	"github.com/localmart/messaging/internal/repository"
	"github.com/localmart/messaging/internal/startup"
	"github.com/localmart/messaging/internal/storage"
	memorystorage "github.com/localmart/messaging/internal/storage/memory"
	redisstorage "github.com/localmart/messaging/internal/storage/redis"
	"github.com/localmart/messaging/internal/ws"
	"github.com/localmart/messaging/migrations"
)

func main() {
	logger.SetPrefix("gateway")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory state stores")
	flag.Parse()

	logger.Info("starting gateway")
	cfg := config.Load()
	if *dev {
		if cfg.TokenSecret == "" {
			cfg.TokenSecret = "dev-token-secret"
		}
		if cfg.MessageSecret == "" {
			cfg.MessageSecret = "dev-message-secret"
		}
	}
	if cfg.TokenSecret == "" || cfg.MessageSecret == "" {
		logger.Errorf("TOKEN_SECRET and MESSAGE_SECRET must be set (or run with -dev)")
		os.Exit(1)
	}

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
	logger.Info("database connected, migrations applied")

	var store storage.Store
	if *dev {
		store = memorystorage.New()
	} else {
		store = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		logger.Info("redis connected")
	}
	defer store.Close()

	cipher, err := crypto.New(cfg.MessageSecret)
	if err != nil {
		logger.Errorf("message cipher: %v", err)
		os.Exit(1)
	}
	verifier := auth.NewVerifier(cfg.TokenSecret)

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)

	if *dev {
		seedDevData(userRepo, convRepo, verifier)
	}

	vapid := &push.VAPIDKeys{PublicKey: cfg.VAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey}
	if vapid.PublicKey == "" || vapid.PrivateKey == "" {
		if keys, err := push.EnsureVAPIDKeys(""); err == nil {
			vapid = keys
		} else {
			logger.Infof("VAPID keys unavailable: %v (push dispatch disabled, subscriptions still accepted)", err)
			vapid = nil
		}
	}
	dispatcher := push.NewDispatcher(buildSubscriptionStore(store), vapid, "messaging-gateway")

	fileSvc := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize)

	hub := ws.NewHub(ws.Config{
		MaxConnections:    cfg.MaxWSConnections,
		SendBufferSize:    cfg.WSSendBufferSize,
		MaxMessageSize:    cfg.WSMaxMessageSize,
		MaxUploadSize:     cfg.MaxUploadSize,
		HistoryLimit:      cfg.HistoryLimit,
		MaxContentLength:  cfg.MaxContentLength,
		PresenceGrace:     cfg.PresenceGrace,
		TypingTTL:         cfg.TypingTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		QueueTTL:          cfg.QueueTTL,
	}, ws.Deps{
		Users:         userRepo,
		Conversations: convRepo,
		Messages:      msgRepo,
		Store:         store,
		Cipher:        cipher,
		Files:         fileSvc,
		Push:          dispatcher,
	})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	wsH := handler.NewWSHandler(hub, verifier, userRepo, cfg.CORSAllowedOrigins)
	fileH := handler.NewFileHandler(fileSvc)
	var vapidPub string
	if vapid != nil {
		vapidPub = vapid.PublicKey
	}
	pushH := handler.NewPushHandler(dispatcher, vapidPub)
	bookingH := handler.NewBookingHandler(hub)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Skip compression for WebSocket upgrades: a compressing ResponseWriter
	// does not implement http.Hijacker and the upgrade fails with 500.
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
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", pushH.VAPIDPublic)
	r.Get("/api/files/{filename}", fileH.Serve)
	r.Get("/ws", wsH.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(verifier))
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly(cfg.InternalSecret))
		r.Post("/internal/bookings/notify", bookingH.Notify)
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
		logger.Infof("gateway listening on %s", cfg.ServerAddr)
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

// buildSubscriptionStore keeps push subscriptions next to the rest of the
// ephemeral state: Redis when the gateway runs on Redis, memory in -dev.
func buildSubscriptionStore(store storage.Store) push.SubscriptionStore {
	if rc, ok := store.(*redisstorage.Client); ok {
		return push.NewRedisStore(rc.Raw())
	}
	return push.NewMemoryStore()
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
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

// seedDevData creates two demo users and a shared conversation so a -dev
// gateway is immediately usable, and logs ready-made tokens.
func seedDevData(users *repository.UserRepository, convs *repository.ConversationRepository, verifier *auth.Verifier) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	const tenant = "dev-tenant"
	demo := []model.User{
		{ID: "dev-alice", TenantID: tenant, Username: "alice", Email: "alice@example.com", Role: "member", CreatedAt: now},
		{ID: "dev-bob", TenantID: tenant, Username: "bob", Email: "bob@example.com", Role: "member", CreatedAt: now},
	}
	for i := range demo {
		if err := users.Create(ctx, &demo[i]); err != nil {
			logger.Errorf("seed user %s: %v", demo[i].Username, err)
			return
		}
	}
	conv := &model.Conversation{
		ID: "dev-conversation", TenantID: tenant, Title: "Demo",
		CreatedBy: demo[0].ID, CreatedAt: now, LastActivityAt: now,
	}
	if err := convs.Create(ctx, conv); err != nil {
		logger.Errorf("seed conversation: %v", err)
		return
	}
	for i := range demo {
		p := &model.Participant{ConversationID: conv.ID, UserID: demo[i].ID, JoinedAt: now}
		if err := convs.AddParticipant(ctx, p); err != nil {
			logger.Errorf("seed participant %s: %v", demo[i].Username, err)
			return
		}
	}
	for i := range demo {
		token, err := verifier.Issue(demo[i].ID, tenant, demo[i].Role, 24*time.Hour)
		if err != nil {
			continue
		}
		logger.Infof("dev token for %s: %s", demo[i].Username, token)
	}
	logger.Infof("dev data seeded: conversation %s", conv.ID)
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "messaging"
		password = "messaging_secret"
		database = "messaging"
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
