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

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thisnick/openclaw-agentmail/pkg/config"
	"go.uber.org/zap"
)

// Server exposes /metrics for scraping and /health for the bridge's
// liveness. It binds to cfg.Host so it stays on loopback by default.
type Server struct {
	httpServer *http.Server
	ready      func() bool
	log        *zap.Logger

	mu    sync.Mutex
	bound string
}

// NewServer creates the metrics server. ready reports whether the bridge is
// running; a nil ready always reports healthy.
func NewServer(cfg config.MetricsConfig, ready func() bool, log *zap.Logger) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}
	s := &Server{ready: ready, log: log}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Init(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// handleHealth answers 503 while the bridge is idle or stopped
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bridge not running\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

// Addr returns the bound address once started, else the configured one
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.httpServer.Addr
}

// Start binds the listening socket and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to bind %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("Metrics server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully stops the metrics HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping metrics server")
	return s.httpServer.Shutdown(ctx)
}

// StartQueueMetricsUpdater starts a goroutine that periodically samples the
// pending queue depth until ctx is cancelled
func StartQueueMetricsUpdater(ctx context.Context, interval time.Duration, depth func(context.Context) (int, error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := depth(ctx); err == nil {
					QueuePending.Set(float64(n))
				}
			}
		}
	}()
}
