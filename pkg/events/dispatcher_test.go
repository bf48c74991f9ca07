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
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thisnick/openclaw-agentmail/pkg/taskqueue"
	"github.com/thisnick/openclaw-agentmail/pkg/wake"
	"go.uber.org/zap"
)

const receivedFrame = `{"type":"event","event_type":"message.received","event_id":"evt-1",
	"message":{"inbox_id":"inbox-1","message_id":"msg-1","from":"a@b.com","subject":"Hi","text":"  hello   world  "}}`

// recordingQueue wraps a MemoryQueue and counts Enqueue calls
type recordingQueue struct {
	*taskqueue.MemoryQueue
	calls atomic.Int32
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, text string, opts taskqueue.EnqueueOptions) (bool, error) {
	q.calls.Add(1)
	if q.err != nil {
		return false, q.err
	}
	return q.MemoryQueue.Enqueue(ctx, text, opts)
}

// recordingNotifier counts Wake calls
type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Wake(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

func newTestDispatcher(notifier wake.Notifier) (*Dispatcher, *recordingQueue) {
	q := &recordingQueue{MemoryQueue: taskqueue.NewMemoryQueue()}
	return NewDispatcher("inbox-1", "agent:main:main", q, notifier, zap.NewNop()), q
}

func TestDispatcher_MessageReceivedEnqueuesAndWakes(t *testing.T) {
	notifier := &recordingNotifier{}
	d, q := newTestDispatcher(notifier)

	d.HandleFrame(context.Background(), []byte(receivedFrame))
	d.Wait()

	pending, err := q.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "agentmail:msg-1", pending[0].DedupKey)
	assert.Equal(t, "agent:main:main", pending[0].RoutingKey)
	assert.Contains(t, pending[0].Text, "Preview: hello world")

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, "New email from a@b.com: Hi", notifier.texts[0])
}

func TestDispatcher_DuplicateDeliveryQueuedOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	d, q := newTestDispatcher(notifier)

	d.HandleFrame(context.Background(), []byte(receivedFrame))
	d.HandleFrame(context.Background(), []byte(receivedFrame))
	d.Wait()

	assert.Equal(t, int32(2), q.calls.Load())
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, notifier.count())
}

func TestDispatcher_IgnoredFrames(t *testing.T) {
	notifier := &recordingNotifier{}
	d, q := newTestDispatcher(notifier)

	for _, raw := range []string{
		`{"type":"event","event_type":"message.delivered","event_id":"e2","message":{"message_id":"m2"}}`,
		`{"type":"subscribed","inbox_ids":["inbox-1"]}`,
		`{"type":"error","name":"ValidationError","message":"bad"}`,
		`{"type":"something-new"}`,
		`not json at all`,
	} {
		d.HandleFrame(context.Background(), []byte(raw))
	}
	d.Wait()

	assert.Equal(t, int32(0), q.calls.Load())
	assert.Equal(t, 0, notifier.count())
}

func TestDispatcher_EnqueueErrorSkipsWake(t *testing.T) {
	notifier := &recordingNotifier{}
	d, q := newTestDispatcher(notifier)
	q.err = errors.New("disk full")

	assert.NotPanics(t, func() {
		d.HandleFrame(context.Background(), []byte(receivedFrame))
	})
	d.Wait()

	assert.Equal(t, int32(1), q.calls.Load())
	assert.Equal(t, 0, notifier.count())
}

func TestDispatcher_WakeErrorIsSwallowed(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("gateway down")}
	d, q := newTestDispatcher(notifier)

	d.HandleFrame(context.Background(), []byte(receivedFrame))
	d.Wait()

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, notifier.count())
}

func TestDispatcher_DropsFramesAfterShutdown(t *testing.T) {
	notifier := &recordingNotifier{}
	d, q := newTestDispatcher(notifier)

	d.Shutdown()
	d.HandleFrame(context.Background(), []byte(receivedFrame))
	d.Wait()

	assert.Equal(t, int32(0), q.calls.Load())
	assert.Equal(t, 0, notifier.count())
}

func TestDispatcher_WakeNotAwaited(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, q := newTestDispatcher(wake.NewChain(zap.NewNop(), wake.NewToolInvoke(server.URL, "gw-token", 5*time.Second)))

	returned := make(chan struct{})
	go func() {
		d.HandleFrame(context.Background(), []byte(receivedFrame))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleFrame blocked on the wake call")
	}

	// The enqueue happened before the wake completed, and the 500 does not escape
	assert.Equal(t, 1, q.Len())
	close(release)
	d.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatcher_InvokeToolWakePostsOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, _ := newTestDispatcher(wake.NewChain(zap.NewNop(), wake.NewToolInvoke(server.URL, "gw-token", time.Second)))
	d.HandleFrame(context.Background(), []byte(receivedFrame))
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"POST /tools/invoke"}, paths)
}

func TestDispatcher_DisabledWakeMakesNoCall(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	d, q := newTestDispatcher(wake.NewChain(zap.NewNop(), wake.Noop{}))
	d.HandleFrame(context.Background(), []byte(receivedFrame))
	d.Wait()

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int32(0), hits.Load())
}
