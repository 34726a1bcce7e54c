package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/medisched/clinic-api/internal/config"
	appointmentHandler "github.com/medisched/clinic-api/internal/handler/appointment"
	healthHandler "github.com/medisched/clinic-api/internal/handler/health"
	referralHandler "github.com/medisched/clinic-api/internal/handler/referral"
	scheduleHandler "github.com/medisched/clinic-api/internal/handler/schedule"
	treatmentHandler "github.com/medisched/clinic-api/internal/handler/treatment"
	"github.com/medisched/clinic-api/internal/middleware"
	"github.com/medisched/clinic-api/internal/repository/postgres"
	"github.com/medisched/clinic-api/internal/router"
	appointmentService "github.com/medisched/clinic-api/internal/service/appointment"
	billingService "github.com/medisched/clinic-api/internal/service/billing"
	historyService "github.com/medisched/clinic-api/internal/service/history"
	referralService "github.com/medisched/clinic-api/internal/service/referral"
	scheduleService "github.com/medisched/clinic-api/internal/service/schedule"
	treatmentService "github.com/medisched/clinic-api/internal/service/treatment"
	"github.com/medisched/clinic-api/pkg/auth"
	"github.com/medisched/clinic-api/pkg/logger"
	"github.com/medisched/clinic-api/pkg/metrics"
	"github.com/medisched/clinic-api/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse redis URL")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	// Repositories
	base := postgres.NewBaseRepository(db)
	txManager := &base
	appointmentRepo := postgres.NewAppointmentRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	historyRepo := postgres.NewHistoryRepository(db)
	referralRepo := postgres.NewReferralRepository(db)
	treatmentRepo := postgres.NewTreatmentRepository(db)
	branchRepo := postgres.NewBranchRepository(db)
	recordRepo := postgres.NewClinicalRecordRepository(db)
	invoiceRepo := postgres.NewInvoiceRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	// Services
	ledger := scheduleService.NewLedger(ledgerRepo, txManager)
	recorder := historyService.NewRecorder(historyRepo)
	catalog := treatmentService.NewService(treatmentRepo)
	invoicer := billingService.NewService(invoiceRepo, treatmentRepo, log.With().Str("service", "billing").Logger())
	appointmentSvc := appointmentService.NewService(
		appointmentRepo, ledger, recorder, catalog, invoicer,
		branchRepo, recordRepo, outboxRepo, txManager,
		log.With().Str("service", "appointment").Logger(),
	)
	referralSvc := referralService.NewService(
		referralRepo, appointmentSvc, appointmentRepo, catalog, recorder, invoicer,
		branchRepo, recordRepo, outboxRepo, txManager,
		log.With().Str("service", "referral").Logger(),
	)

	// HTTP layer
	validate := validator.New()
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)
	m := metrics.NewMetrics("medisched", "api")

	r := router.NewRouter(
		authMiddleware,
		healthHandler.NewHandler(db, redisClient),
		appointmentHandler.NewHandler(appointmentSvc, validate),
		referralHandler.NewHandler(referralSvc, validate),
		scheduleHandler.NewHandler(ledger, validate),
		treatmentHandler.NewHandler(catalog, branchRepo),
		m,
		log,
		router.RouterConfig{
			RateLimit:  rate.Limit(cfg.Server.RateLimit),
			RateBurst:  cfg.Server.RateBurst,
			Timeout:    time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			CORSConfig: middleware.DefaultCORSConfig(),
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
