package main

import (
	"academy/academy/config"
	"academy/academy/controllers"
	"academy/academy/middlewares"
	"academy/academy/routes"
	"academy/academy/services/chat"
	"academy/academy/services/llm"
	"academy/academy/services/mailer"
	"academy/academy/services/sequence"
	"academy/academy/sources/cache"
	"academy/academy/sources/psql"
	"academy/academy/sources/psql/dao"
	"academy/academy/sources/storage"
	"academy/academy/utils/logging"
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logging.InitLogger(cfg.LogDir)
	defer logging.Sync()

	modes, err := config.LoadModes(cfg.ModesFile)
	if err != nil {
		logging.ErrorLogger.Error("modes file error", zap.Error(err))
		os.Exit(1)
	}
	notices, err := chat.LoadNotices(cfg.NoticesFile, cfg.NoticesLocale)
	if err != nil {
		logging.ErrorLogger.Error("notices file error", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := psql.NewDatabase(ctx, cfg)
	if err != nil {
		logging.ErrorLogger.Error("database connection error", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	profileDAO := dao.NewProfileDAO(db.DB)
	chatDAO := dao.NewChatMessageDAO(db.DB)
	quotaDAO := dao.NewQuotaDAO(db.DB, cfg.DefaultEmailLimit, cfg.DefaultAICreditLimit)
	sequenceDAO := dao.NewSequenceDAO(db.DB)
	mailDAO := dao.NewMailDAO(db.DB)

	var provider mailer.Provider
	if cfg.SendGridAPIKey != "" {
		provider = mailer.NewSendGrid(cfg.SendGridAPIKey, cfg.EmailFromName, cfg.EmailFromAddress)
	} else {
		logging.AppLogger.Warn("SENDGRID_API_KEY not set, emails are only logged")
	}
	mailService := mailer.NewService(mailDAO, provider)

	var sender sequence.Sender = mailService
	if cfg.EmailFunctionURL != "" {
		sender = mailer.NewClient(cfg.EmailFunctionURL, cfg.ProcessorSecret)
	}
	processor := sequence.NewProcessor(dao.NewSequenceStore(db.DB), quotaDAO, sender)
	if cfg.SequenceBatchSize > 0 {
		processor.BatchSize = cfg.SequenceBatchSize
	}
	if cfg.SequenceLease > 0 {
		processor.Lease = cfg.SequenceLease
	}

	// Redis and MinIO are optional: without them there is no step dedup,
	// no chat rate limit and no report archive.
	var limiter controllers.RateLimiter
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logging.ErrorLogger.Error("redis connection error, continuing without it", zap.Error(err))
		} else {
			defer rdb.Close()
			processor.Dedup = cache.NewStepDedup(rdb)
			limiter = cache.NewRateLimiter(rdb)
		}
	}
	var archive controllers.ReportArchive
	if cfg.MinIOEndpoint != "" {
		minioClient, err := storage.NewMinIOClient(ctx, cfg)
		if err != nil {
			logging.ErrorLogger.Error("minio connection error, reports will not be archived", zap.Error(err))
		} else {
			processor.Reports = minioClient
			archive = minioClient
		}
	}

	llmClient := llm.NewClient(cfg)

	healthCtrl := controllers.NewHealthController()
	authCtrl := controllers.NewAuthController(profileDAO, cfg)
	userCtrl := controllers.NewUserController(profileDAO)
	chatCtrl := controllers.NewChatController(chatDAO, llmClient, quotaDAO, limiter, modes, notices, cfg)
	mailCtrl := controllers.NewMailController(mailService)
	seqCtrl := controllers.NewSequenceController(processor, sequenceDAO, archive)

	runner := sequence.NewRunner(processor, cfg.SequenceInterval)
	runner.Start(context.Background())
	defer runner.Stop()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Mount("/health", routes.HealthRoutes(healthCtrl))
	r.Mount("/auth", routes.AuthRoutes(authCtrl))
	r.Mount("/users", routes.UserRoutes(userCtrl, cfg))
	r.Mount("/chat", routes.ChatRoutes(chatCtrl, cfg))
	r.Mount("/ai", routes.AIRoutes(chatCtrl, cfg))
	r.Mount("/functions", routes.FunctionRoutes(mailCtrl, seqCtrl, cfg))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	go func() {
		logging.AppLogger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.ErrorLogger.Error("server listen error", zap.Error(err))
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.ErrorLogger.Error("server shutdown error", zap.Error(err))
	}
	logging.AppLogger.Info("server shutdown complete")
}
