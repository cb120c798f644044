package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dukerupert/chatgate/internal/config"
	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/logging"
	"github.com/dukerupert/chatgate/internal/maintenance"
	"github.com/dukerupert/chatgate/internal/otp"
	"github.com/dukerupert/chatgate/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var sender otp.Sender = otp.NewLogSender(logger.With("component", "otp_sender"))
	if webhook := otp.NewWebhookSender(cfg.OTPWebhookURL, cfg.OTPWebhookToken); webhook.Configured() {
		sender = webhook
	} else {
		logger.Warn("OTP_WEBHOOK_URL not set, codes are written to the log")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(cfg, db, sender, registry, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	sweeper := maintenance.NewSweeper(cfg.SweepInterval, srv.MaintenanceTasks(),
		maintenance.WithLogger(logger.With("component", "maintenance")),
	)
	sweeper.Start(context.Background())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("chatgate starting", "addr", httpServer.Addr, "max_devices", cfg.MaxDevices)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sweeper.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
