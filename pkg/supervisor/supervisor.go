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

// Package supervisor keeps exactly one event stream session alive, reopening
// it with backoff after every close or failed attempt.
package supervisor

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thisnick/openclaw-agentmail/pkg/agentmail"
	"github.com/thisnick/openclaw-agentmail/pkg/backoff"
	"github.com/thisnick/openclaw-agentmail/pkg/metrics"
	"go.uber.org/zap"
)

// State represents the supervisor state
type State int

const (
	// Idle - not started
	Idle State = iota
	// Connecting - waiting out a backoff delay or performing the handshake
	Connecting
	// Open - a session is live
	Open
	// Closed - the last session ended; a reconnect is scheduled
	Closed
	// Failed - the last open attempt failed; a reconnect is scheduled
	Failed
	// Stopped - terminal
	Stopped
)

var allStates = []string{
	Idle.String(), Connecting.String(), Open.String(),
	Closed.String(), Failed.String(), Stopped.String(),
}

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session is one live connection as seen by the supervisor
type Session interface {
	ID() string
	// Done is closed when the session ends
	Done() <-chan struct{}
	CloseCode() int
	// Close must be idempotent
	Close()
	// Wait returns once no more frames will be delivered
	Wait()
}

// Connector opens sessions. Open must honour ctx cancellation during the handshake.
type Connector interface {
	Open(ctx context.Context, onFrame func([]byte)) (Session, error)
}

// FrameHandler receives every frame of every session, in delivery order
type FrameHandler func(ctx context.Context, raw []byte)

// Status is a point-in-time snapshot for the admin API
type Status struct {
	State         string     `json:"state"`
	Attempt       int        `json:"attempt"`
	SessionID     string     `json:"session_id,omitempty"`
	LastConnected *time.Time `json:"last_connected,omitempty"`
	LastCloseCode int        `json:"last_close_code,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Reconnects    int        `json:"reconnects"`
}

// Supervisor drives the reconnect loop
type Supervisor struct {
	connector Connector
	handler   FrameHandler
	policy    backoff.Policy
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.RWMutex // Protects the fields below
	state         State
	started       bool
	stopped       bool
	attempt       int
	sessionID     string
	lastConnected time.Time
	lastCloseCode int
	lastError     string
	reconnects    int

	openSessions atomic.Int32
}

// New creates a supervisor in the Idle state
func New(connector Connector, handler FrameHandler, policy backoff.Policy, logger *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		connector: connector,
		handler:   handler,
		policy:    policy,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		state:     Idle,
	}
}

// Start launches the reconnect loop. It is a no-op if already started or stopped.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		s.logger.Debug("Supervisor start ignored",
			zap.Bool("started", s.started),
			zap.Bool("stopped", s.stopped),
		)
		return
	}
	s.started = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Starting event stream supervisor")
	go s.connectionLoop()
}

// Stop cancels any pending backoff wait or handshake, closes the open
// session and waits for the loop to exit. Safe to call before Start and
// more than once.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("Stopping event stream supervisor")

	s.cancel()
	s.wg.Wait()
	s.setState(Stopped)

	s.logger.Info("Event stream supervisor stopped")
}

// connectionLoop manages the session lifecycle with reconnection
func (s *Supervisor) connectionLoop() {
	defer s.wg.Done()

	// Frames read before a stop still finish their enqueue
	frameCtx := context.WithoutCancel(s.ctx)
	onFrame := func(raw []byte) {
		s.handler(frameCtx, raw)
	}

	attempt := 0
	for {
		if !s.waitBackoff(attempt) {
			return
		}

		s.setAttempt(attempt)
		s.setState(Connecting)

		sess, err := s.connector.Open(s.ctx, onFrame)
		if err != nil {
			if s.isShuttingDown() {
				return
			}
			attempt++
			s.recordFailure(err)
			s.setState(Failed)

			s.logger.Warn("Connection failed, will retry",
				zap.Error(err),
				zap.Int("retry_count", attempt),
			)
			continue
		}

		if s.isShuttingDown() {
			// Stop raced with a completed handshake
			sess.Close()
			sess.Wait()
			return
		}

		attempt = 0
		s.runSession(sess)

		if s.isShuttingDown() {
			return
		}

		s.setState(Closed)
		attempt = 1
	}
}

// waitBackoff sleeps for the attempt's backoff delay. It returns false if
// the supervisor was stopped first.
func (s *Supervisor) waitBackoff(attempt int) bool {
	if s.isShuttingDown() {
		return false
	}
	if attempt == 0 {
		return true
	}

	delay := s.policy.Delay(attempt)
	metrics.BackoffDelaySeconds.WithLabelValues(metrics.AttemptBucket(attempt)).Observe(delay.Seconds())
	s.logger.Info("Reconnecting after backoff",
		zap.Int("retry_count", attempt),
		zap.Duration("retry_delay", delay),
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.ctx.Done():
		return false
	}

	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	metrics.ReconnectAttemptsTotal.Inc()
	return true
}

// runSession blocks until sess ends or the supervisor is stopped
func (s *Supervisor) runSession(sess Session) {
	opened := time.Now()
	s.openSessions.Add(1)
	metrics.SessionsOpen.Inc()

	s.mu.Lock()
	s.attempt = 0
	s.sessionID = sess.ID()
	s.lastConnected = opened
	s.lastError = ""
	s.mu.Unlock()
	s.setState(Open)

	s.logger.Info("Event stream session established", zap.String("session_id", sess.ID()))

	select {
	case <-sess.Done():
	case <-s.ctx.Done():
		sess.Close()
		<-sess.Done()
	}
	// No frame from this session may interleave with the next one
	sess.Wait()

	s.openSessions.Add(-1)
	metrics.SessionsOpen.Dec()

	code := sess.CloseCode()
	metrics.SessionDurationSeconds.WithLabelValues(strconv.Itoa(code)).Observe(time.Since(opened).Seconds())

	s.mu.Lock()
	s.sessionID = ""
	s.lastCloseCode = code
	s.mu.Unlock()

	s.logger.Info("Event stream session ended",
		zap.String("session_id", sess.ID()),
		zap.Int("close_code", code),
		zap.Duration("uptime", time.Since(opened)),
	)
}

func (s *Supervisor) recordFailure(err error) {
	reason := "connect"
	if agentmail.IsAuthError(err) {
		reason = "unauthorized"
	}
	metrics.ConnectFailuresTotal.WithLabelValues(reason).Inc()

	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

// setState updates the state and logs transitions
func (s *Supervisor) setState(newState State) {
	s.mu.Lock()
	oldState := s.state
	s.state = newState
	s.mu.Unlock()

	if oldState != newState {
		metrics.SetConnectionState(newState.String(), allStates)
		s.logger.Info("Connection state changed",
			zap.String("from", oldState.String()),
			zap.String("to", newState.String()),
		)
	}
}

func (s *Supervisor) setAttempt(attempt int) {
	s.mu.Lock()
	s.attempt = attempt
	s.mu.Unlock()
}

// isShuttingDown checks if the supervisor is stopping
func (s *Supervisor) isShuttingDown() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// State returns the current state (thread-safe)
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OpenSessions returns how many sessions are currently open (0 or 1)
func (s *Supervisor) OpenSessions() int {
	return int(s.openSessions.Load())
}

// Status returns a snapshot of the supervisor
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:         s.state.String(),
		Attempt:       s.attempt,
		SessionID:     s.sessionID,
		LastCloseCode: s.lastCloseCode,
		LastError:     s.lastError,
		Reconnects:    s.reconnects,
	}
	if !s.lastConnected.IsZero() {
		t := s.lastConnected
		st.LastConnected = &t
	}
	return st
}
