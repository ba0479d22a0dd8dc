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

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/audit"
	"github.com/xela07ax/pipeline-approval-relay/internal/engine"
	"github.com/xela07ax/pipeline-approval-relay/internal/function"
	"github.com/xela07ax/pipeline-approval-relay/internal/infra"
	"github.com/xela07ax/pipeline-approval-relay/internal/infra/auth"
	"github.com/xela07ax/pipeline-approval-relay/internal/pipeline"
	"github.com/xela07ax/pipeline-approval-relay/internal/repository/postgres"
	"github.com/xela07ax/pipeline-approval-relay/internal/server"
	"github.com/xela07ax/pipeline-approval-relay/internal/server/handler"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// cold start: everything below is reused by warm invocations
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. Metrics
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// 2. Audit trail: Postgres when configured, structured log otherwise
	var storage audit.Storage = audit.NewLogStorage(logger)
	if cfg.Database.URL != "" {
		repo, err := postgres.NewAuditRepo(cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.Ping(initCtx); err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		if err := repo.EnsureSchema(initCtx); err != nil {
			return err
		}
		storage = repo
	}
	recorder := audit.NewRecorder(storage, logger, 0)
	recorder.Start()
	defer recorder.Stop()

	// 3. Pipeline service: SDK -> adapter -> (dry-run) -> reliability
	api, err := pipeline.NewAWSClient(initCtx, pipeline.AWSOptions{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		return err
	}
	var client pipeline.Client = pipeline.NewCodePipelineAdapter(api, cfg.Engine.CallTimeout)
	if cfg.Relay.DryRun {
		logger.Warn("dry-run mode: approval decisions are not submitted")
		client = pipeline.NewDryRunClient(client, logger)
	}
	client = engine.NewReliabilityWrapper(client, engine.ReliabilitySettings{
		Attempts:      cfg.Engine.RetryAttempts,
		CallTimeout:   cfg.Engine.CallTimeout,
		RateLimit:     cfg.Engine.RateLimit,
		RateBurst:     cfg.Engine.RateBurst,
		CBMaxRequests: cfg.Engine.CBMaxRequests,
		CBInterval:    cfg.Engine.CBInterval,
		CBTimeout:     cfg.Engine.CBTimeout,
		CBMaxFailures: cfg.Engine.CBMaxFailures,
	}, metrics, logger)

	// 4. Optional Redis guards
	var (
		relayOpts []engine.Option
		freeze    *engine.FreezeManager
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(initCtx).Err(); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		freeze = engine.NewFreezeManager(rdb)
		relayOpts = append(relayOpts, engine.WithTokenLock(engine.NewTokenLock(rdb, cfg.Redis.LockTTL, logger)))

		if cfg.Server.Mode == infra.ModeHTTP {
			// long-lived process: follow freeze signals instead of asking Redis per request
			cache := engine.NewFreezeCache(rdb, logger)
			listenCtx, stopListen := context.WithCancel(context.Background())
			defer stopListen()
			go cache.Start(listenCtx)

			select {
			case <-cache.Ready():
			case <-initCtx.Done():
				return fmt.Errorf("freeze cache not ready: %w", initCtx.Err())
			}
			relayOpts = append(relayOpts, engine.WithFreeze(cache))
		} else {
			relayOpts = append(relayOpts, engine.WithFreeze(freeze))
		}
	}

	// 5. Core
	relay, err := engine.NewRelay(engine.Options{
		PipelineName: cfg.Relay.PipelineName,
		StageSuffix:  cfg.Relay.StageSuffix,
		ActionName:   cfg.Relay.ActionName,
		DryRun:       cfg.Relay.DryRun,
	}, client, recorder, metrics, logger, relayOpts...)
	if err != nil {
		return err
	}

	switch cfg.Server.Mode {
	case infra.ModeLambda:
		logger.Info("serving lambda invocations", zap.String("pipeline", cfg.Relay.PipelineName))
		lambda.Start(function.NewHandler(relay, recorder, logger).Invoke)
		return nil
	default:
		return serveHTTP(cfg, logger, reg, relay, freeze)
	}
}

func serveHTTP(cfg *infra.Config, logger *zap.Logger, reg *prometheus.Registry, relay *engine.Relay, freeze *engine.FreezeManager) error {
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return err
	}

	var freezeH *handler.FreezeHandler
	if freeze != nil {
		freezeH = handler.NewFreezeHandler(freeze, logger)
	}
	api := server.New(logger, auth.NewBaseValidator(pubKey), cfg.Auth.RequiredScope, reg,
		handler.NewApprovalHandler(relay, logger), freezeH)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("relay stopping...", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("relay exited properly")
	return nil
}
