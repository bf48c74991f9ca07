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

package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/thisnick/openclaw-agentmail/pkg/metrics"
	"github.com/thisnick/openclaw-agentmail/pkg/taskqueue"
	"github.com/thisnick/openclaw-agentmail/pkg/wake"
	"go.uber.org/zap"
)

// Dispatcher routes classified frames: new messages are queued and then
// announced to the wake notifier in the background.
type Dispatcher struct {
	inboxID    string
	routingKey string
	queue      taskqueue.Queue
	notifier   wake.Notifier
	logger     *zap.Logger

	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher for one inbox
func NewDispatcher(inboxID, routingKey string, queue taskqueue.Queue, notifier wake.Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		inboxID:    inboxID,
		routingKey: routingKey,
		queue:      queue,
		notifier:   notifier,
		logger:     logger,
	}
}

// HandleFrame processes one raw frame. It never returns an error: malformed
// frames, enqueue failures and wake failures are logged and dropped.
// The wake call is not awaited.
func (d *Dispatcher) HandleFrame(ctx context.Context, raw []byte) {
	if d.stopped.Load() {
		d.logger.Debug("Dropping frame received after shutdown")
		return
	}

	frame, err := Classify(raw)
	if err != nil {
		metrics.FramesReceivedTotal.WithLabelValues("malformed").Inc()
		d.logger.Warn("Dropping malformed frame",
			zap.Error(err),
			zap.Int("frame_length", len(raw)),
		)
		return
	}
	metrics.FramesReceivedTotal.WithLabelValues(frame.Kind.String()).Inc()

	switch frame.Kind {
	case KindSubscribed:
		d.logger.Info("Subscription confirmed", zap.Strings("inbox_ids", frame.Subscribed.InboxIDs))

	case KindMessageReceived:
		d.handleMessageReceived(ctx, frame)

	case KindOtherEvent:
		d.logger.Debug("Ignoring event",
			zap.String("event_type", frame.Event.EventType),
			zap.String("event_id", frame.Event.EventID),
		)

	case KindServerError:
		d.logger.Warn("AgentMail reported an error",
			zap.String("error_name", frame.Error.Name),
			zap.String("error_message", frame.Error.Message),
		)

	default:
		d.logger.Debug("Ignoring unrecognized frame", zap.String("type", frame.Type))
	}
}

func (d *Dispatcher) handleMessageReceived(ctx context.Context, frame Frame) {
	n := Normalize(d.inboxID, d.routingKey, frame.Event)

	added, err := d.queue.Enqueue(ctx, n.Text, taskqueue.EnqueueOptions{
		RoutingKey: n.RoutingKey,
		DedupKey:   n.DedupKey,
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		d.logger.Error("Failed to enqueue notification",
			zap.Error(err),
			zap.String("dedup_key", n.DedupKey),
			zap.String("event_id", frame.Event.EventID),
		)
		return
	}

	if !added {
		metrics.NotificationsTotal.WithLabelValues("duplicate").Inc()
		d.logger.Debug("Notification already queued", zap.String("dedup_key", n.DedupKey))
		return
	}

	metrics.NotificationsTotal.WithLabelValues("enqueued").Inc()
	d.logger.Info("Notification queued",
		zap.String("dedup_key", n.DedupKey),
		zap.String("from", n.From),
		zap.String("subject", n.Subject),
	)

	if d.stopped.Load() {
		return
	}

	// Detached from ctx so a reconnect or stop does not abort an in-flight wake
	wakeCtx := context.WithoutCancel(ctx)
	text := WakeText(n)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.notifier.Wake(wakeCtx, text); err != nil {
			d.logger.Warn("Wake notification failed",
				zap.Error(err),
				zap.String("dedup_key", n.DedupKey),
			)
		}
	}()
}

// Shutdown makes every later HandleFrame call a no-op. It is terminal.
func (d *Dispatcher) Shutdown() {
	d.stopped.Store(true)
}

// Wait blocks until in-flight wake calls finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
