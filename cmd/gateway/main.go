package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tourbase/tourbase/internal/audit"
	"github.com/tourbase/tourbase/internal/auth"
	"github.com/tourbase/tourbase/internal/gateway"
	"github.com/tourbase/tourbase/internal/idempotency"
	"github.com/tourbase/tourbase/internal/infra"
	infraauth "github.com/tourbase/tourbase/internal/infra/auth"
	"github.com/tourbase/tourbase/internal/operator"
	"github.com/tourbase/tourbase/internal/payment"
	"github.com/tourbase/tourbase/internal/policy"
	"github.com/tourbase/tourbase/internal/repository/postgres"
	"github.com/tourbase/tourbase/internal/validate"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Контекст жизненного цикла фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Postgres: агенты, ключи идемпотентности, аудит, домен
	repo, err := postgres.New(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("postgres ping failed", zap.Error(err))
	}
	pingCancel()

	// 3. Redis: fan-out сигналов отзыва ключей между инстансами
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	revocation := auth.NewRevocationCache(rdb, logger)
	if err := revocation.Init(appCtx); err != nil {
		// Redis недоступен — верифаер живет на Postgres (active flag),
		// мгновенного fan-out отзыва не будет
		logger.Warn("revocation cache init failed, running without L1/L2 sync", zap.Error(err))
	}
	if ids, err := repo.RevokedAgentIDs(appCtx); err == nil {
		if err := revocation.Warmup(appCtx, ids); err != nil {
			logger.Warn("revocation warm-up failed", zap.Error(err))
		}
	}
	go revocation.StartListener(appCtx)

	// 4. Аудит: async recorder с пакетной записью в Postgres.
	// Stop вызывается последним в shutdown-цепочке — Final Flush без потерь.
	recorder := audit.NewRecorder(repo, logger, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval)
	recorder.Start()

	// 5. Метрики
	reg := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(reg)
	recorder.SetFillGauge(func(n int) { metrics.AuditBufferFill.Set(float64(n)) })

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 6. Идемпотентность: Postgres-хранилище + периодическая уборка
	coordinator := idempotency.NewCoordinator(repo, cfg.Engine.ClaimWait, logger)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				n, err := repo.Sweep(appCtx, cfg.Engine.IdempotencyTTL)
				if err != nil {
					logger.Error("idempotency sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("idempotency keys swept", zap.Int64("count", n))
				}
			}
		}
	}()

	// 7. Сборка ядра шлюза
	core := gateway.NewCore(
		auth.NewVerifier(repo, revocation, logger),
		policy.NewEngine(policy.DefaultRules()),
		coordinator,
		recorder,
		metrics,
		logger,
	)
	gateway.RegisterAll(core, gateway.Deps{
		Store:    repo,
		Payments: payment.NewFromConfig(cfg.Payment, logger),
		Bookings: validate.NewBookingRules(repo),
		Refunds:  validate.NewRefundRules(repo),
	})

	// 8. Операторский периметр (RS256)
	privateKey, err := infraauth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("operator private key unusable", zap.Error(err))
	}
	publicKey, err := infraauth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("operator public key unusable", zap.Error(err))
	}
	operatorSvc := operator.NewService(repo, repo, rdb, privateKey, cfg.Auth.TokenTTL, cfg.Auth.BcryptCost, logger)
	operatorH := operator.NewHandler(operatorSvc, infraauth.NewBaseValidator(publicKey), logger)

	// 9. HTTP: агентский шлюз + операторский API под одним сервером
	router := chi.NewRouter()
	router.Mount("/", gateway.NewServer(core, logger).Routes())
	router.Mount("/operator", operatorH.Routes())

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("agent gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	// Фоновые слушатели вниз, затем финальный сброс аудита
	cancel()
	recorder.Stop()
	logger.Info("gateway stopped gracefully")
}
