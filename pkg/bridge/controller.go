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

// Package bridge wires the event stream supervisor, the dispatcher, the task
// queue and the wake notifier into one start/stop lifecycle.
package bridge

import (
	"context"
	"sync"

	"github.com/thisnick/openclaw-agentmail/pkg/agentmail"
	"github.com/thisnick/openclaw-agentmail/pkg/backoff"
	"github.com/thisnick/openclaw-agentmail/pkg/config"
	"github.com/thisnick/openclaw-agentmail/pkg/events"
	"github.com/thisnick/openclaw-agentmail/pkg/logger"
	"github.com/thisnick/openclaw-agentmail/pkg/metrics"
	"github.com/thisnick/openclaw-agentmail/pkg/supervisor"
	"github.com/thisnick/openclaw-agentmail/pkg/taskqueue"
	"github.com/thisnick/openclaw-agentmail/pkg/wake"
	"go.uber.org/zap"
)

// dialerConnector adapts agentmail.Dialer to supervisor.Connector
type dialerConnector struct {
	dialer *agentmail.Dialer
}

func (c dialerConnector) Open(ctx context.Context, onFrame func([]byte)) (supervisor.Session, error) {
	sess, err := c.dialer.Open(ctx, onFrame)
	if err != nil {
		// Avoid a non-nil interface holding a nil *Session
		return nil, err
	}
	return sess, nil
}

// Options override collaborators, mainly for tests
type Options struct {
	Connector supervisor.Connector
	Notifier  wake.Notifier
	Backoff   *backoff.Policy
}

// Status is the controller snapshot served by the admin API
type Status struct {
	Running    bool              `json:"running"`
	InboxID    string            `json:"inbox_id,omitempty"`
	WakeMode   string            `json:"wake_mode"`
	Supervisor supervisor.Status `json:"supervisor"`
}

// Controller owns one start/stop cycle of the bridge
type Controller struct {
	cfg    config.Config
	queue  taskqueue.Queue
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	started    bool
	stopped    bool
	dispatcher *events.Dispatcher
	supervisor *supervisor.Supervisor
}

// NewController creates a controller. cfg is copied and not mutated afterwards.
func NewController(cfg config.Config, queue taskqueue.Queue, logger *zap.Logger, opts Options) *Controller {
	cfg.AgentMail.EventTypes = append([]string(nil), cfg.AgentMail.EventTypes...)
	return &Controller{
		cfg:    cfg,
		queue:  queue,
		opts:   opts,
		logger: logger,
	}
}

// Start launches the supervisor. Missing credentials are not an error: it
// logs a warning and returns false. Calling Start again is a no-op.
func (c *Controller) Start() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		c.logger.Warn("Bridge already stopped, not starting")
		return false, nil
	}
	if c.started {
		return true, nil
	}

	if !c.cfg.HasCredentials() {
		c.logger.Warn("AgentMail not configured, skipping connection",
			zap.Bool("api_key_set", c.cfg.AgentMail.APIKey != ""),
			zap.Bool("inbox_id_set", c.cfg.AgentMail.InboxID != ""),
		)
		return false, nil
	}

	notifier := c.opts.Notifier
	if notifier == nil {
		notifier = wake.NewFromConfig(c.cfg.Wake, c.logger.Named("wake"))
	}

	connector := c.opts.Connector
	if connector == nil {
		connector = dialerConnector{dialer: agentmail.NewDialer(c.cfg.AgentMail, c.logger.Named("agentmail"))}
	}

	policy := backoff.DefaultPolicy()
	if c.opts.Backoff != nil {
		policy = *c.opts.Backoff
	}

	c.dispatcher = events.NewDispatcher(
		c.cfg.AgentMail.InboxID,
		c.cfg.AgentMail.SessionKey,
		c.queue,
		notifier,
		c.logger.Named("events"),
	)
	c.supervisor = supervisor.New(connector, c.dispatcher.HandleFrame, policy, c.logger.Named("supervisor"))

	c.logger.Info("Starting AgentMail bridge",
		zap.String("inbox_id", c.cfg.AgentMail.InboxID),
		zap.Strings("event_types", c.cfg.AgentMail.EventTypes),
		zap.String("session_key", c.cfg.AgentMail.SessionKey),
		zap.String("api_key", logger.MaskSecret(c.cfg.AgentMail.APIKey)),
		zap.String("wake_mode", string(c.cfg.Wake.Mode)),
	)

	c.supervisor.Start()
	c.started = true
	metrics.Up.Set(1)

	return true, nil
}

// Stop shuts the bridge down: later frames are dropped, any pending retry or
// handshake is cancelled, the open session is closed and in-flight wakes are
// awaited. It is idempotent and safe before Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	dispatcher := c.dispatcher
	sup := c.supervisor
	c.mu.Unlock()

	if dispatcher == nil {
		c.logger.Debug("Bridge was never started")
		return
	}

	c.logger.Info("Stopping AgentMail bridge")

	dispatcher.Shutdown()
	sup.Stop()
	dispatcher.Wait()
	metrics.Up.Set(0)

	c.logger.Info("AgentMail bridge stopped")
}

// Status returns a snapshot for the admin API
func (c *Controller) Status() Status {
	c.mu.Lock()
	sup := c.supervisor
	stopped := c.stopped
	running := c.started && !stopped
	c.mu.Unlock()

	st := Status{
		Running:  running,
		InboxID:  c.cfg.AgentMail.InboxID,
		WakeMode: string(c.cfg.Wake.Mode),
	}
	if sup != nil {
		st.Supervisor = sup.Status()
	} else {
		st.Supervisor = supervisor.Status{State: supervisor.Idle.String()}
		if stopped {
			st.Supervisor.State = supervisor.Stopped.String()
		}
	}
	return st
}
