package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-gin-event-attendance/config"
	"go-gin-event-attendance/internal/cache"
	"go-gin-event-attendance/internal/clock"
	"go-gin-event-attendance/internal/codec"
	"go-gin-event-attendance/internal/database"
	"go-gin-event-attendance/internal/handler"
	"go-gin-event-attendance/internal/model"
	"go-gin-event-attendance/internal/queue"
	"go-gin-event-attendance/internal/repository"
	"go-gin-event-attendance/internal/service"
	"go-gin-event-attendance/internal/worker"
	"go-gin-event-attendance/migrations"
	"go-gin-event-attendance/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// stores 票券服務需要的儲存與外部目錄
type stores struct {
	tickets       repository.TicketRepository
	events        repository.EventRepository
	registrations repository.RegistrationRepository
	participants  repository.ParticipantRepository
}

func main() {
	configPath := pflag.String("config", "", "YAML config file overriding environment settings")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		logger.WithComponent("main").Fatal("server exited", zap.Error(err))
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.SetLevel(cfg.Server.LogLevel); err != nil {
		return err
	}
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.HealthCheck{}

	st, closeStore, err := openStores(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.Ticket.ScanThrottleEnabled || cfg.Notifier.Driver == "redis" {
		rdb, err = database.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var throttle cache.ScanThrottle = cache.NoopScanThrottle{}
	if cfg.Ticket.ScanThrottleEnabled {
		throttle = cache.NewRedisScanThrottle(rdb, cfg.Ticket.ScanThrottleWindow)
	}

	attendanceQueue, closeQueue, err := openAttendanceQueue(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer closeQueue()

	expiryPolicy, err := model.ParseBulkExpiryPolicy(cfg.Ticket.BulkExpiryPolicy)
	if err != nil {
		return err
	}
	policy := service.TicketPolicy{
		GraceWindow:      cfg.Ticket.GraceWindow,
		IssueRetries:     cfg.Ticket.IssueRetries,
		MaxBulkSize:      cfg.Ticket.MaxBulkSize,
		BulkExpiryPolicy: expiryPolicy,
	}
	clk := clock.NewSystem()
	ticketCodec := codec.New(cfg.Ticket.QRSize)

	issuanceService := service.NewIssuanceService(st.tickets, st.registrations, st.events, st.events, ticketCodec, clk, policy)
	verificationService := service.NewVerificationService(st.tickets, st.events, st.participants, ticketCodec, throttle, attendanceQueue, clk)
	attendanceService := service.NewAttendanceService(st.tickets, st.events, attendanceQueue, clk, policy)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	var attendanceWorker worker.AttendanceWorker
	if cfg.Notifier.WorkerEnabled {
		attendanceWorker = worker.NewAttendanceWorker(worker.NewAuditSink(), attendanceQueue)
		if err := attendanceWorker.Start(workerCtx); err != nil {
			return fmt.Errorf("start attendance worker: %w", err)
		}
		log.Info("attendance worker started", zap.String("driver", cfg.Notifier.Driver))
	}

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler.NewHealthHandler(checks).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1", handler.JWTAuth(cfg.Auth.JWTSecret))
	handler.NewTicketHandler(issuanceService).RegisterRoutes(api)
	handler.NewAttendanceHandler(verificationService, attendanceService).RegisterRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Server.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}

	// 先停 HTTP，再讓 worker 處理完手上的事件
	cancelWorker()
	if attendanceWorker != nil {
		attendanceWorker.Wait()
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, checks map[string]handler.HealthCheck) (*stores, func(), error) {
	if cfg.Server.Store == "memory" {
		logger.WithComponent("main").Warn("using in-memory store, data is lost on restart")
		events := repository.NewMemoryEventRepository()
		return &stores{
			tickets:       repository.NewMemoryTicketRepository(),
			events:        events,
			registrations: repository.NewMemoryRegistrationRepository(),
			participants:  repository.NewMemoryParticipantRepository(),
		}, func() {}, nil
	}

	pool, err := database.InitDatabase(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.Server.RunMigrations {
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	checks["postgres"] = pool.Ping

	return &stores{
		tickets:       repository.NewTicketRepository(pool),
		events:        repository.NewEventRepository(pool),
		registrations: repository.NewRegistrationRepository(pool),
		participants:  repository.NewParticipantRepository(pool),
	}, pool.Close, nil
}

func openAttendanceQueue(ctx context.Context, cfg *config.Config, rdb *redis.Client) (queue.AttendanceQueue, func(), error) {
	switch cfg.Notifier.Driver {
	case "redis":
		q, err := queue.NewRedisStreamAttendanceQueue(ctx, rdb, cfg.Notifier.ConsumerID, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis stream queue: %w", err)
		}
		return q, func() {}, nil
	case "amqp":
		q, err := queue.NewAMQPAttendanceQueue(cfg.Notifier.AMQPURL, cfg.Notifier.QueueName)
		if err != nil {
			return nil, nil, fmt.Errorf("init amqp queue: %w", err)
		}
		return q, func() {
			if err := q.Close(); err != nil {
				logger.WithComponent("main").Warn("close amqp queue failed", zap.Error(err))
			}
		}, nil
	default:
		return queue.NewMemoryAttendanceQueue(1024), func() {}, nil
	}
}
