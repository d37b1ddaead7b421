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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/repobridge/internal/adapter/driven/filestore"
	githubadapter "github.com/ericfisherdev/repobridge/internal/adapter/driven/github"
	httphandler "github.com/ericfisherdev/repobridge/internal/adapter/driving/http"
	"github.com/ericfisherdev/repobridge/internal/application"
	"github.com/ericfisherdev/repobridge/internal/config"
	"github.com/ericfisherdev/repobridge/internal/keylock"
	"github.com/ericfisherdev/repobridge/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.Default()

	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"data_dir", cfg.DataDir,
		"github_app_id", cfg.GitHubAppID,
		"github_api_url", cfg.GitHubAPIURL,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Resolve the vault master key and open the file stores.
	masterKey, keySource, err := filestore.ResolveMasterKey(filestore.MasterKeyOptions{
		Key:        cfg.SecretKey,
		Passphrase: cfg.SecretPassphrase,
		DataDir:    cfg.DataDir,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info("master key resolved", "source", string(keySource))

	vault, err := filestore.NewSecretVault(cfg.DataDir, masterKey)
	if err != nil {
		return err
	}
	mappingStore := filestore.NewMappingRepo(cfg.DataDir)
	installationStore := filestore.NewInstallationRepo(cfg.DataDir)

	// 4. Create the GitHub App client.
	ghClient, err := githubadapter.NewClient(cfg.GitHubAppID, cfg.GitHubPrivateKey, cfg.GitHubAPIURL)
	if err != nil {
		return err
	}

	// 5. Metrics registry.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	// 6. Wire application services. The config service and reconciler share
	// one locker so tenant writes and uninstall cascades serialize.
	locks := &keylock.Locker{}

	issuer := application.NewCredentialIssuer(ghClient, installationStore,
		application.WithTokenTimeout(cfg.TokenTimeout),
		application.WithIssuerMetrics(recorder),
		application.WithIssuerLogger(logger),
	)
	validator := application.NewAccessValidator(ghClient)
	configSvc := application.NewConfigService(issuer, validator, ghClient, mappingStore, installationStore, locks, recorder, logger)
	secretSvc := application.NewSecretService(vault, recorder, logger)
	reconciler := application.NewReconciler(installationStore, mappingStore, issuer, locks, logger)

	pending := application.NewPendingInputStore(cfg.PendingInputTTL, application.DefaultPendingInputMaxEntries)
	go pending.Run(ctx, time.Minute)

	limiter := httphandler.NewTenantRateLimiter(rate.Limit(cfg.TenantRatePerMinute/60), cfg.TenantRateBurst)
	go limiter.Run(ctx, 5*time.Minute)

	// 7. Create HTTP handlers.
	apiHandler := httphandler.NewHandler(configSvc, secretSvc, pending, logger)
	webhookHandler := httphandler.NewWebhookHandler([]byte(cfg.GitHubWebhookSecret), reconciler, recorder, logger)
	handler := httphandler.NewServeMux(apiHandler, webhookHandler, metrics.Handler(registry), limiter, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	logger.Info("repobridge started", "listen_addr", cfg.ListenAddr)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	// 9. Graceful shutdown. Webhook applies run detached, so allow them time
	// to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httphandler.DefaultWebhookApplyTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
