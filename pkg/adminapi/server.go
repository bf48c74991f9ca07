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

// Package adminapi serves a small local HTTP API for inspecting the bridge
// and its notification queue.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/thisnick/openclaw-agentmail/pkg/bridge"
	"github.com/thisnick/openclaw-agentmail/pkg/config"
	"github.com/thisnick/openclaw-agentmail/pkg/taskqueue"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// StatusProvider reports the bridge status
type StatusProvider interface {
	Status() bridge.Status
}

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Server is the admin HTTP server
type Server struct {
	cfg        config.AdminConfig
	status     StatusProvider
	queue      taskqueue.Queue
	logger     *zap.Logger
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the admin server and registers its routes. It listens on
// cfg.Host, which defaults to loopback.
func NewServer(cfg config.AdminConfig, status StatusProvider, queue taskqueue.Queue, logger *zap.Logger) *Server {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		status: status,
		queue:  queue,
		logger: logger,
		router: router,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/notifications", s.handleListNotifications)
	router.POST("/notifications/:id/ack", s.handleAckNotification)

	s.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}
	return s
}

// Addr returns the bound address once started, else the configured one
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Handler exposes the router for in-process tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the port and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("admin server failed to bind: %w", err)
	}
	s.listener = ln

	s.logger.Info("Admin API server listening", zap.String("addr", s.Addr()))
	if ip := net.ParseIP(s.cfg.Host); ip == nil || !ip.IsLoopback() {
		s.logger.Warn("Admin API is unauthenticated and bound beyond loopback",
			zap.String("host", s.cfg.Host))
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin API server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully stops the admin server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping admin API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) handleListNotifications(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Status:  "error",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxListLimit)
	}

	items, err := s.queue.Pending(c.Request.Context(), limit)
	if err != nil {
		getLogger(c, s.logger).Error("Failed to list pending notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Status:  "error",
			Message: "failed to list notifications",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":         len(items),
		"notifications": items,
	})
}

func (s *Server) handleAckNotification(c *gin.Context) {
	id := c.Param("id")
	log := getLogger(c, s.logger)

	if err := s.queue.Ack(c.Request.Context(), id); err != nil {
		if taskqueue.IsNotFoundError(err) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Status:  "error",
				Message: fmt.Sprintf("notification %q not found", id),
			})
			return
		}
		log.Error("Failed to ack notification", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Status:  "error",
			Message: "failed to ack notification",
		})
		return
	}

	log.Info("Notification acknowledged", zap.String("id", id))
	c.JSON(http.StatusOK, gin.H{"status": "success", "id": id})
}
