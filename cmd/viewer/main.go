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
	"autocare-platform/internal/config"
	"autocare-platform/internal/discovery"
	"autocare-platform/internal/negotiator"
	"autocare-platform/internal/reconcile"
	"autocare-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ProcessViewer)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.Process).With("customer", cfg.Client.Identity)
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
	viewer := negotiator.NewViewer(client, peers, negotiator.NewIVFSink(cfg.Signaling.SinkDir, log), negotiator.ViewerConfig{
		Identity:          cfg.Client.Identity,
		ICEInterval:       cfg.Signaling.ICEInterval,
		DiscoveryInterval: cfg.Signaling.DiscoveryInterval,
		OfferAttempts:     cfg.Signaling.OfferAttempts,
		OfferRetry:        cfg.Signaling.OfferRetry,
		SessionTimeout:    cfg.Signaling.SessionTimeout,
	}, log)

	poller := discovery.New(client, cfg.Client.Identity, cfg.Signaling.DiscoveryInterval, log)
	go logSnapshots(poller.Start(rootCtx), log)

	engine := reconcile.NewEngine(reconcile.CustomerScope(client, cfg.Client.Identity), client, reconcile.Config{
		Scope:       "customer:" + cfg.Client.Identity,
		Interval:    cfg.Billing.ReconcileInterval,
		Concurrency: cfg.Billing.ReconcileConcurrency,
	}, log)
	if err := engine.Start(rootCtx); err != nil {
		log.Error("reconcile start failed", "err", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, cfg.Client.Identity, viewer, poller, engine)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// POST /view blocks for the whole negotiation.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("viewer listening", "addr", srv.Addr, "env", cfg.App.Env)
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
	viewer.Stop()
	poller.Stop()
	engine.Stop()
}

func logSnapshots(snaps <-chan discovery.Snapshot, log *slog.Logger) {
	for s := range snaps {
		switch {
		case s.Err != nil:
			log.Warn("stream discovery failed", "err", s.Err)
		case len(s.Added) > 0 || len(s.Removed) > 0:
			log.Info("live streams changed", "added", s.Added, "removed", s.Removed, "live", len(s.Streams))
		}
	}
}
