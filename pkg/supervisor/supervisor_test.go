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

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thisnick/openclaw-agentmail/pkg/backoff"
	"go.uber.org/zap"
)

func fastPolicy() backoff.Policy {
	return backoff.Policy{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2, Jitter: 0.1}
}

// fakeSession ends when closed locally or via end()
type fakeSession struct {
	id      string
	done    chan struct{}
	once    sync.Once
	code    atomic.Int32
	onEnd   func()
	onFrame func([]byte)
}

func (s *fakeSession) ID() string            { return s.id }
func (s *fakeSession) Done() <-chan struct{} { return s.done }
func (s *fakeSession) CloseCode() int        { return int(s.code.Load()) }
func (s *fakeSession) Close()                { s.end(1000) }
func (s *fakeSession) Wait()                 { <-s.done }

func (s *fakeSession) end(code int) {
	s.once.Do(func() {
		s.code.Store(int32(code))
		s.onEnd()
		close(s.done)
	})
}

// fakeConnector hands out sessions, optionally failing the first calls
type fakeConnector struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	block     bool
	sessions  []*fakeSession
	attempts  []int
	sup       *Supervisor

	current atomic.Int32
	maxOpen atomic.Int32
	opened  chan *fakeSession
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{opened: make(chan *fakeSession, 100)}
}

func (c *fakeConnector) Open(ctx context.Context, onFrame func([]byte)) (Session, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	if c.sup != nil {
		c.attempts = append(c.attempts, c.sup.Status().Attempt)
	}
	block := c.block
	fail := call <= c.failFirst
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("connection refused")
	}

	n := c.current.Add(1)
	for {
		m := c.maxOpen.Load()
		if n <= m || c.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}

	s := &fakeSession{
		id:      fmt.Sprintf("session-%d", call),
		done:    make(chan struct{}),
		onEnd:   func() { c.current.Add(-1) },
		onFrame: onFrame,
	}
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()
	c.opened <- s
	return s, nil
}

func (c *fakeConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func waitOpened(t *testing.T, c *fakeConnector) *fakeSession {
	t.Helper()
	select {
	case s := <-c.opened:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no session opened")
		return nil
	}
}

func waitState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 3*time.Second, time.Millisecond)
}

func noopHandler(context.Context, []byte) {}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestSupervisor_StopBeforeStart(t *testing.T) {
	c := newFakeConnector()
	s := New(c, noopHandler, fastPolicy(), zap.NewNop())

	assert.Equal(t, Idle, s.State())
	s.Stop()
	s.Stop()
	assert.Equal(t, Stopped, s.State())

	// Stopped is terminal
	s.Start()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.callCount())
	assert.Equal(t, Stopped, s.State())
}

func TestSupervisor_DoubleStop(t *testing.T) {
	c := newFakeConnector()
	s := New(c, noopHandler, fastPolicy(), zap.NewNop())

	s.Start()
	sess := waitOpened(t, c)
	waitState(t, s, Open)

	s.Stop()
	s.Stop()

	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 1000, sess.CloseCode())
	assert.Equal(t, 0, s.OpenSessions())
	assert.Equal(t, int32(0), c.current.Load())
}

func TestSupervisor_StartTwiceRunsOneLoop(t *testing.T) {
	c := newFakeConnector()
	s := New(c, noopHandler, fastPolicy(), zap.NewNop())

	s.Start()
	s.Start()
	waitOpened(t, c)
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.Equal(t, 1, c.callCount())
}

func TestSupervisor_SingleFlightAcrossReconnects(t *testing.T) {
	c := newFakeConnector()
	s := New(c, noopHandler, fastPolicy(), zap.NewNop())
	s.Start()
	defer s.Stop()

	for i := 0; i < 10; i++ {
		sess := waitOpened(t, c)
		assert.LessOrEqual(t, s.OpenSessions(), 1)
		sess.end(1006)
	}
	waitOpened(t, c)

	assert.Equal(t, int32(1), c.maxOpen.Load())
	assert.GreaterOrEqual(t, s.Status().Reconnects, 10)
	assert.Equal(t, 1006, s.Status().LastCloseCode)
}

func TestSupervisor_AttemptCounter(t *testing.T) {
	c := newFakeConnector()
	c.failFirst = 2
	s := New(c, noopHandler, fastPolicy(), zap.NewNop())
	c.sup = s

	s.Start()
	defer s.Stop()

	sess := waitOpened(t, c) // third call succeeds
	waitState(t, s, Open)
	assert.Equal(t, 0, s.Status().Attempt)
	assert.Equal(t, sess.ID(), s.Status().SessionID)
	assert.NotNil(t, s.Status().LastConnected)

	sess.end(1001)
	waitOpened(t, c)

	c.mu.Lock()
	attempts := append([]int(nil), c.attempts...)
	c.mu.Unlock()

	// Failures grow the counter, a successful open resets it and the next
	// session end starts back at 1
	assert.Equal(t, []int{0, 1, 2, 1}, attempts)
}

func TestSupervisor_StopDuringBackoff(t *testing.T) {
	c := newFakeConnector()
	c.failFirst = 1000
	policy := backoff.Policy{Min: time.Minute, Max: time.Minute, Factor: 2}
	s := New(c, noopHandler, policy, zap.NewNop())

	s.Start()
	waitState(t, s, Failed)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the backoff wait")
	}

	assert.Equal(t, 1, c.callCount())
	assert.Equal(t, Stopped, s.State())
	assert.Contains(t, s.Status().LastError, "connection refused")
}

func TestSupervisor_StopDuringHandshake(t *testing.T) {
	c := newFakeConnector()
	c.block = true
	s := New(c, noopHandler, fastPolicy(), zap.NewNop())

	s.Start()
	waitState(t, s, Connecting)
	require.Eventually(t, func() bool { return c.callCount() == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the handshake")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.callCount(), "no reconnect after stop")
	assert.Equal(t, Stopped, s.State())
}

func TestSupervisor_FramesReachHandler(t *testing.T) {
	var (
		mu     sync.Mutex
		frames []string
	)
	handler := func(ctx context.Context, raw []byte) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, string(raw))
	}

	c := newFakeConnector()
	s := New(c, handler, fastPolicy(), zap.NewNop())
	s.Start()

	sess := waitOpened(t, c)
	sess.onFrame([]byte("one"))
	sess.onFrame([]byte("two"))
	s.Stop()

	// Frames already read finish with a live context after stop
	sess.onFrame([]byte("three"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two", "three"}, frames)
}
