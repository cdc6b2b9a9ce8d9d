package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autocare-platform/internal/apiclient"
	"autocare-platform/internal/appointments"
	"autocare-platform/internal/authoring"
	"autocare-platform/internal/billing"
	"autocare-platform/internal/config"
	"autocare-platform/internal/negotiator"
	"autocare-platform/internal/pricing"
	"autocare-platform/internal/reconcile"
	"autocare-platform/internal/video"
	"autocare-platform/pkg/logger"
	"autocare-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ProcessStation)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.Process).With("provider", cfg.Client.Identity)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	client := apiclient.New(apiclient.Config{
		BaseURL:            cfg.Client.APIBaseURL,
		Token:              cfg.Client.Token,
		Timeout:            cfg.Client.Timeout,
		DefaultChargeMinor: cfg.Billing.ServiceChargeMinor,
	}, log)

	peers, err := negotiator.NewPionFactory(cfg.Signaling.ICEServers)
	if err != nil {
		log.Error("webrtc init failed", "err", err)
		os.Exit(1)
	}
	sources, err := video.NewSourceFactory(cfg.Video.Source, cfg.Video.SourcePath)
	if err != nil {
		log.Error("video source init failed", "err", err)
		os.Exit(1)
	}
	publisher := negotiator.NewPublisher(client, peers, cfg.Signaling.ICEInterval, log)
	broadcasts := video.NewController(video.FromPublisher(publisher), sources, client, video.Config{
		StartDelay: cfg.Video.StartDelay,
		StopDelay:  cfg.Video.StopDelay,
	}, log)

	engine := reconcile.NewEngine(reconcile.ProviderScope(client, cfg.Client.Identity), client, reconcile.Config{
		Scope:       "provider:" + cfg.Client.Identity,
		Interval:    cfg.Billing.ReconcileInterval,
		Concurrency: cfg.Billing.ReconcileConcurrency,
	}, log)
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		engine.WithLocker(reconcile.NewRedisLocker(rdb))
	}

	apptSvc := appointments.NewService(client, nil, log, broadcasts, refreshOnChange(engine, log))

	catalog := pricing.NewService(pricing.NewMemoryRepo(pricing.DefaultCatalog(cfg.Billing.Currency)...))
	author := authoring.NewService(engine, client, client, catalog, handoff(log), authoring.Config{
		ServiceChargeMinor: cfg.Billing.ServiceChargeMinor,
		Currency:           cfg.Billing.Currency,
	}, log)

	if err := engine.Start(rootCtx); err != nil {
		log.Error("reconcile start failed", "err", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, stationDeps{
		provider:     cfg.Client.Identity,
		appointments: apptSvc,
		engine:       engine,
		authoring:    author,
		catalog:      catalog,
		video:        broadcasts,
		bills:        client,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("station listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	broadcasts.Close(shutdownCtx)
	engine.Stop()
}

// refreshOnChange reruns reconciliation after a status change so completed
// appointments show up as billable without waiting for the next tick.
func refreshOnChange(engine *reconcile.Engine, log *slog.Logger) appointments.ListenerFunc {
	return func(ctx context.Context, a appointments.Appointment, from appointments.Status) {
		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if _, err := engine.Refresh(ctx); err != nil {
				log.Warn("refresh after status change failed", "appointment_id", a.ID, "err", err)
			}
		}()
	}
}

// handoff is where a created bill leaves the authoring flow. The station has
// no payment terminal, so the bill is only announced.
func handoff(log *slog.Logger) authoring.Handoff {
	return func(ctx context.Context, rec billing.Record) {
		logger.ForAppointment(log, rec.AppointmentID).Info("bill ready for payment",
			"billing_id", rec.ID, "total_minor", rec.TotalAmountMinor, "currency", rec.Currency)
	}
}
