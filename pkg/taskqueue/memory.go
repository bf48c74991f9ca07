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

package taskqueue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue. Contents do not survive a restart.
type MemoryQueue struct {
	mu     sync.RWMutex
	byKey  map[string]*Notification
	byID   map[string]*Notification
	order  []*Notification
	closed bool
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		byKey: make(map[string]*Notification),
		byID:  make(map[string]*Notification),
	}
}

// Enqueue implements Queue
func (q *MemoryQueue) Enqueue(ctx context.Context, text string, opts EnqueueOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}

	key := dedupKeyOrNew(opts.DedupKey)
	if _, exists := q.byKey[key]; exists {
		return false, nil
	}

	n := &Notification{
		ID:         uuid.New().String(),
		DedupKey:   key,
		RoutingKey: opts.RoutingKey,
		Text:       text,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	q.byKey[key] = n
	q.byID[n.ID] = n
	q.order = append(q.order, n)

	return true, nil
}

// Pending implements Queue
func (q *MemoryQueue) Pending(ctx context.Context, limit int) ([]Notification, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrClosed
	}

	result := make([]Notification, 0)
	for _, n := range q.order {
		if n.Status != StatusPending {
			continue
		}
		result = append(result, *n)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Ack implements Queue
func (q *MemoryQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	n, ok := q.byID[id]
	if !ok {
		return ErrNotFound
	}
	if n.Status == StatusAcked {
		return nil
	}
	now := time.Now().UTC()
	n.Status = StatusAcked
	n.AckedAt = &now
	return nil
}

// Close implements Queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Len returns the number of notifications ever accepted
func (q *MemoryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.order)
}

// dedupKeyOrNew gives keyless items a unique key so they are never collapsed
func dedupKeyOrNew(key string) string {
	if strings.TrimSpace(key) == "" {
		return "generated:" + uuid.New().String()
	}
	return key
}
