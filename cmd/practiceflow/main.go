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

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/config"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/payout"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler/middleware"
	v1 "github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/repository/memory"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/repository/postgres"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/service"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/database"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/logger"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/tracer"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "practiceflow: %v\n", err)
		os.Exit(1)
	}
}

type stores struct {
	slots         slot.Repository
	sessions      session.Repository
	cancellations session.CancellationRepository
	payouts       payout.Repository
	audit         service.AuditRepository
	checks        map[string]v1.HealthCheck
	close         func()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log, cfg.App)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracer.Init(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}

	m := metrics.NewCollector(cfg.App.Name, prometheus.DefaultRegisterer)

	st, err := openStores(cfg, m, log)
	if err != nil {
		return err
	}
	defer st.close()

	bus := realtime.NewBus(cfg.Realtime.SendBuffer, m, log)
	var events realtime.Publisher = bus
	if cfg.Redis.Enabled {
		client, err := database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		bridge := realtime.NewRedisBridge(client, cfg.Realtime.RedisChannel, bus, log)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Error("realtime redis bridge stopped", zap.Error(err))
			}
		}()
		events = bridge
		st.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	loc := cfg.Scheduling.Location()
	clock := window.SystemClock{Location: loc}
	auditSvc := service.NewAuditService(st.audit, m, log)

	calendar := service.NewCalendarService(st.slots, st.sessions, service.CalendarOptions{
		Grid:           slot.Grid{Start: cfg.Scheduling.DayStart, End: cfg.Scheduling.DayEnd, Step: cfg.Scheduling.SlotStep},
		HorizonDays:    cfg.Scheduling.HorizonDays,
		SessionMinutes: cfg.Scheduling.SessionMinutes,
		Location:       loc,
	}, clock, events, auditSvc, m, log)

	sessions := service.NewSessionService(st.sessions, st.cancellations, service.SessionOptions{
		Policy: session.CancellationPolicy{
			Cutoff:               cfg.Scheduling.CancellationCutoff,
			LateRequiresDocument: cfg.Scheduling.LateCancelRequiresDocument,
			Location:             loc,
		},
		HorizonDays:  cfg.Scheduling.HorizonDays,
		PollInterval: cfg.Realtime.PollInterval,
		Location:     loc,
	}, clock, events, auditSvc, m, log)

	payouts := service.NewPayoutService(st.payouts, payout.Gate{
		WindowStartDay:     cfg.Payout.WindowStartDay,
		WindowEndDay:       cfg.Payout.WindowEndDay,
		CooldownReleaseDay: cfg.Payout.CooldownReleaseDay,
		IgnoreVoided:       cfg.Payout.CooldownIgnoresVoided,
		Location:           loc,
	}, clock, events, auditSvc, m, log)

	watcher := realtime.NewSessionWatcher(bus, sessions, sessions.Tracker(), clock, cfg.Realtime.PollInterval, log)
	ws := realtime.NewWebSocketHandler(bus, watcher, v1.TopicAuthorizer(sessions), middleware.ClaimsFrom,
		cfg.CORS.AllowedOrigins, cfg.Realtime.SendBuffer, log)

	router := handler.NewRouter(handler.Deps{
		Config:   cfg,
		Calendar: calendar,
		Sessions: sessions,
		Payouts:  payouts,
		Realtime: ws,
		Tokens:   auth.NewJWTManager(cfg.JWT),
		Checks:   st.checks,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("timezone", loc.String()),
			zap.Bool("redis", cfg.Redis.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", zap.Error(err))
	}
	auditSvc.Shutdown()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openStores(cfg *config.Config, m *metrics.Collector, log *zap.Logger) (*stores, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		mem := memory.NewStore()
		return &stores{
			slots:         mem.Slots(),
			sessions:      mem.Sessions(),
			cancellations: mem.Cancellations(),
			payouts:       mem.Payouts(),
			audit:         mem.Audit(),
			checks:        map[string]v1.HealthCheck{},
			close:         func() {},
		}, nil
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, log); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}

	repos := postgres.New(db, m)
	return &stores{
		slots:         repos.Slots,
		sessions:      repos.Sessions,
		cancellations: repos.Cancellations,
		payouts:       repos.Payouts,
		audit:         repos.Audit,
		checks: map[string]v1.HealthCheck{
			"database": sqlDB.PingContext,
		},
		close: func() { _ = sqlDB.Close() },
	}, nil
}
