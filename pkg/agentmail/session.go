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

// Package agentmail owns the WebSocket session to the AgentMail event stream.
package agentmail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/thisnick/openclaw-agentmail/pkg/config"
	"github.com/thisnick/openclaw-agentmail/pkg/logger"
	"go.uber.org/zap"
)

// Dialer opens sessions against the configured event stream
type Dialer struct {
	cfg    config.AgentMailConfig
	logger *zap.Logger
	dialer websocket.Dialer
}

// NewDialer creates a Dialer. cfg is copied and never mutated.
func NewDialer(cfg config.AgentMailConfig, logger *zap.Logger) *Dialer {
	cfg.EventTypes = append([]string(nil), cfg.EventTypes...)
	return &Dialer{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// URL returns the stream endpoint with the credential masked, for logging
func (d *Dialer) URL() string {
	return d.buildURL(logger.MaskSecret(d.cfg.APIKey))
}

// buildURL puts the credential in the query string; some environments cannot
// attach headers to the upgrade request.
func (d *Dialer) buildURL(apiKey string) string {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return d.cfg.URL
	}
	q := u.Query()
	q.Set("api_key", apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open dials the stream and subscribes. onFrame is called sequentially, in
// delivery order, for every text frame until the session ends.
// Cancelling ctx aborts a pending handshake.
func (d *Dialer) Open(ctx context.Context, onFrame func([]byte)) (*Session, error) {
	d.logger.Info("Connecting to AgentMail",
		zap.String("url", d.URL()),
		zap.String("inbox_id", d.cfg.InboxID),
	)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)

	dialer, disarm := d.cancellableDialer(ctx)
	conn, resp, err := dialer.DialContext(ctx, d.buildURL(d.cfg.APIKey), headers)
	if !disarm() && err == nil {
		// Cancelled as the handshake completed; the deadline may already be tripped
		_ = conn.Close()
		err = ctx.Err()
	}
	if err != nil && ctx.Err() != nil {
		d.logger.Info("Handshake abandoned", zap.Error(ctx.Err()))
		return nil, &ConnectionError{Op: "dial", Err: ctx.Err()}
	}
	if err != nil {
		connErr := &ConnectionError{Op: "dial", Err: err}
		if resp != nil {
			connErr.StatusCode = resp.StatusCode
			d.logger.Error("WebSocket connection failed",
				zap.Error(err),
				zap.Int("status_code", resp.StatusCode),
			)

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				d.logger.Error("Authentication failed - invalid or revoked API key",
					zap.String("troubleshooting", "Check AGENTMAIL_BRIDGE_API_KEY or agentmail.api_key"),
				)
				connErr.Err = fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
		} else {
			d.logger.Error("WebSocket connection failed", zap.Error(err))
		}
		return nil, connErr
	}

	s := &Session{
		id:           uuid.New().String(),
		conn:         conn,
		logger:       d.logger,
		pingInterval: d.cfg.PingInterval,
		openedAt:     time.Now(),
		done:         make(chan struct{}),
	}
	s.logger = d.logger.With(zap.String("session_id", s.id))

	// Nothing else writes yet, so this cannot race with the ping loop
	sub := NewSubscribeRequest(d.cfg.InboxID, d.cfg.EventTypes)
	if err := conn.WriteJSON(sub); err != nil {
		// The transport did not report a failure, so the session stays open
		s.logger.Error("Failed to send subscribe request", zap.Error(err))
	} else {
		s.logger.Info("Subscribe request sent",
			zap.String("inbox_id", d.cfg.InboxID),
			zap.Strings("event_types", d.cfg.EventTypes),
		)
	}

	if s.pingInterval > 0 {
		s.extendReadDeadline()
		conn.SetPongHandler(func(string) error {
			s.extendReadDeadline()
			return nil
		})
	}

	s.wg.Add(1)
	go s.readLoop(onFrame)

	if s.pingInterval > 0 {
		s.wg.Add(1)
		go s.pingLoop()
	}

	return s, nil
}

// cancellableDialer returns a copy of the websocket dialer whose raw
// connection is interrupted when ctx is done. gorilla/websocket only applies
// the context deadline to the upgrade exchange, so a cancel alone would wait
// for HandshakeTimeout. disarm reports false if ctx fired before it ran.
func (d *Dialer) cancellableDialer(ctx context.Context) (*websocket.Dialer, func() bool) {
	var (
		mu        sync.Mutex
		raw       net.Conn
		cancelled bool
	)

	dialer := d.dialer
	netDialer := &net.Dialer{}
	dialer.NetDialContext = func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		c, err := netDialer.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		if cancelled {
			_ = c.Close()
			return nil, ctx.Err()
		}
		raw = c
		return c, nil
	}

	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		cancelled = true
		if raw != nil {
			_ = raw.SetDeadline(time.Now())
		}
	})

	return &dialer, stop
}

// Session is one live connection to the event stream. It is never reused;
// a reconnect builds a new Session.
type Session struct {
	id           string
	conn         *websocket.Conn
	logger       *zap.Logger
	pingInterval time.Duration
	openedAt     time.Time

	done      chan struct{}
	closeCode atomic.Int32
	closing   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// OpenedAt returns when the handshake completed
func (s *Session) OpenedAt() time.Time {
	return s.openedAt
}

// Done is closed when the session has ended for any reason
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseCode returns the close code the session ended with. It is only
// meaningful after Done is closed.
func (s *Session) CloseCode() int {
	return int(s.closeCode.Load())
}

// Close ends the session. It is safe to call multiple times, concurrently,
// and after the session has already ended. Errors are swallowed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing connection")
		if err := s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
			s.logger.Debug("Failed to send close frame", zap.Error(err))
		}
		_ = s.conn.Close()
	})
}

// Wait blocks until the session's goroutines have exited
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) readLoop(onFrame func([]byte)) {
	defer s.wg.Done()

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			} else if s.closing.Load() {
				code = websocket.CloseNormalClosure
			}
			s.closeCode.Store(int32(code))

			if s.closing.Load() {
				s.logger.Debug("Session closed locally", zap.Int("close_code", code))
			} else {
				// Transport errors are always followed by the close reported here
				s.logger.Warn("Session ended",
					zap.Int("close_code", code),
					zap.Error(err),
					zap.Duration("uptime", time.Since(s.openedAt)),
				)
			}

			_ = s.conn.Close()
			close(s.done)
			return
		}

		if s.pingInterval > 0 {
			s.extendReadDeadline()
		}

		if messageType != websocket.TextMessage {
			s.logger.Debug("Ignoring non-text message", zap.Int("message_type", messageType))
			continue
		}

		onFrame(message)
	}
}

// pingLoop sends keepalive pings; a missing pong trips the read deadline
func (s *Session) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.pingInterval)); err != nil {
				s.logger.Debug("Failed to send ping", zap.Error(err))
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) extendReadDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
}
