package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/narcissus123/continuity/pkg/config"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/handlers"
	"github.com/narcissus123/continuity/pkg/llm"
	"github.com/narcissus123/continuity/pkg/localctx"
	"github.com/narcissus123/continuity/pkg/metrics"
	"github.com/narcissus123/continuity/pkg/services"
	"github.com/narcissus123/continuity/pkg/session"
	"github.com/narcissus123/continuity/pkg/workflow"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	config.InitLogger(cfg)
	log.Info("Starting Continuity API...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	if err := db.Migrate(ctx, store); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	metrics.RegisterDBStats(store.DB.DB, "continuity")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}

	var generator llm.Generator = llm.StubGenerator{}
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("Failed to initialize LLM client: %v", err)
		}
		defer gemini.Close()
		generator = gemini
	} else {
		log.Warn("GEMINI_API_KEY not set, using the offline script generator")
	}

	var mailer services.Mailer
	if cfg.SMTPHost != "" {
		mailer = services.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	} else {
		log.Warn("SMTP_HOST not set, verification mails will only be logged")
		mailer = services.NewLogMailer()
	}

	pointers := localctx.New(cfg.ContextDir)
	restored, err := localctx.Bootstrap(ctx, store, pointers)
	if err != nil {
		log.Warnf("Could not restore previous context: %v", err)
	} else if restored.User != nil {
		log.Infof("Last signed-in user: %s (selected video: %q)", restored.User.UserID, restored.VideoID)
	}

	sessions := session.NewRedisStore(rdb, "session", cfg.SessionTTL)
	locker := session.NewRedisLocker(rdb, "lock", cfg.AcquireLockTTL)
	jwt := services.NewJWTService(cfg.JwtSecret, cfg.JwtTTL)
	tokens := services.NewTokenService(store, cfg.TokenTTL)

	apiHandlers := &handlers.Handlers{
		Store:        store,
		Auth:         services.NewAuthService(store, tokens, mailer, jwt, pointers),
		JWT:          jwt,
		Orchestrator: session.NewOrchestrator(store, sessions, locker, cfg.SessionAppName),
		Coordinator:  workflow.NewCoordinator(store, sessions, generator, workflow.StubRenderer{Root: "renders"}, cfg.ImageBatchSize),
		Pointers:     pointers,
	}

	go services.NewSweeper(tokens, cfg.TokenSweepInterval).Run(ctx)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	apiHandlers.Register(router)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		log.Infof("Server listening on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited gracefully.")
}
