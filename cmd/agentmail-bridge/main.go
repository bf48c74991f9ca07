/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/thisnick/openclaw-agentmail/pkg/adminapi"
	"github.com/thisnick/openclaw-agentmail/pkg/bridge"
	"github.com/thisnick/openclaw-agentmail/pkg/config"
	"github.com/thisnick/openclaw-agentmail/pkg/logger"
	"github.com/thisnick/openclaw-agentmail/pkg/metrics"
	"github.com/thisnick/openclaw-agentmail/pkg/taskqueue"
	"go.uber.org/zap"
)

const queueMetricsInterval = 15 * time.Second

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file (optional, environment variables are always read)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger with config
	log, err := logger.NewLogger(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting AgentMail bridge",
		zap.String("config_file", *configPath),
		zap.String("queue_type", cfg.Queue.Type),
		zap.String("wake_mode", string(cfg.Wake.Mode)),
		zap.Bool("api_key_configured", cfg.AgentMail.APIKey != ""),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)

	metrics.Enabled = cfg.Metrics.Enabled
	metrics.Init()

	queue, err := openQueue(cfg.Queue, log)
	if err != nil {
		log.Fatal("Failed to initialize task queue", zap.Error(err))
	}
	defer queue.Close()

	updaterCtx, stopUpdater := context.WithCancel(context.Background())
	defer stopUpdater()
	if cfg.Metrics.Enabled {
		metrics.StartQueueMetricsUpdater(updaterCtx, queueMetricsInterval, func(ctx context.Context) (int, error) {
			items, err := queue.Pending(ctx, 0)
			return len(items), err
		})
	}

	controller := bridge.NewController(*cfg, queue, log.Named("bridge"), bridge.Options{})

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics, func() bool { return controller.Status().Running }, log.Named("metrics"))
		if err := metricsServer.Start(); err != nil {
			log.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	var adminServer *adminapi.Server
	if cfg.Admin.Enabled {
		adminServer = adminapi.NewServer(cfg.Admin, controller, queue, log.Named("adminapi"))
		if err := adminServer.Start(); err != nil {
			log.Fatal("Failed to start admin API server", zap.Error(err))
		}
	}

	started, err := controller.Start()
	if err != nil {
		log.Fatal("Failed to start bridge", zap.Error(err))
	}
	if !started {
		log.Warn("Bridge idle until AgentMail credentials are configured",
			zap.String("troubleshooting", "Set AGENTMAIL_BRIDGE_API_KEY and AGENTMAIL_BRIDGE_INBOX_ID"))
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info("Shutting down AgentMail bridge", zap.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		controller.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		log.Warn("Bridge did not stop within the shutdown timeout",
			zap.Duration("shutdown_timeout", cfg.ShutdownTimeout))
	}

	if adminServer != nil {
		if err := adminServer.Stop(ctx); err != nil {
			log.Error("Admin API server forced to shutdown", zap.Error(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			log.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("AgentMail bridge stopped")
}

// openQueue initializes the task queue backend selected by cfg
func openQueue(cfg config.QueueConfig, log *zap.Logger) (taskqueue.Queue, error) {
	switch cfg.Type {
	case config.QueueTypeMemory:
		log.Warn("Using in-memory task queue, notifications are lost on restart")
		return taskqueue.NewMemoryQueue(), nil
	case config.QueueTypeSQLite:
		log.Info("Initializing SQLite task queue", zap.String("path", cfg.SQLite.Path))
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
		return taskqueue.NewSQLiteQueue(cfg.SQLite.Path, log.Named("taskqueue"))
	default:
		return nil, fmt.Errorf("unknown queue type: %q", cfg.Type)
	}
}
