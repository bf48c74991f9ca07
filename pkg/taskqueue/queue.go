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

// Package taskqueue holds the agent's pending notification queue.
//
// Deduplication is the queue's responsibility: Enqueue with a dedup key that
// was already accepted reports false and stores nothing.
package taskqueue

import (
	"context"
	"time"
)

// Notification statuses
const (
	StatusPending = "pending"
	StatusAcked   = "acked"
)

// EnqueueOptions carries the routing and dedup keys for one notification
type EnqueueOptions struct {
	RoutingKey string
	DedupKey   string
}

// Notification is one queued item as seen by the agent
type Notification struct {
	ID         string     `db:"id" json:"id"`
	DedupKey   string     `db:"dedup_key" json:"dedup_key"`
	RoutingKey string     `db:"routing_key" json:"routing_key"`
	Text       string     `db:"text" json:"text"`
	Status     string     `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	AckedAt    *time.Time `db:"acked_at" json:"acked_at,omitempty"`
}

// Queue is the enqueue contract the bridge forwards notifications through
type Queue interface {
	// Enqueue stores text under opts. It returns false when an item with the
	// same dedup key was already accepted.
	Enqueue(ctx context.Context, text string, opts EnqueueOptions) (bool, error)

	// Pending returns up to limit unacknowledged notifications, oldest first.
	// A limit <= 0 returns all of them.
	Pending(ctx context.Context, limit int) ([]Notification, error)

	// Ack marks a notification as handled.
	Ack(ctx context.Context, id string) error

	Close() error
}
