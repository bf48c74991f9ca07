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
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed taskqueue-db.sql
var schemaSQL string

// SQLiteQueue implements Queue on a local SQLite database.
// The UNIQUE constraint on dedup_key enforces at-most-once acceptance per key.
type SQLiteQueue struct {
	db     *sqlx.DB
	logger *zap.Logger
	closed atomic.Bool
}

// uriPathEscaper escapes the characters that would end the path part of a
// SQLite file: URI
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func escapeURIPath(path string) string {
	return uriPathEscaper.Replace(path)
}

// NewSQLiteQueue opens (or creates) the queue database at dbPath
func NewSQLiteQueue(dbPath string, logger *zap.Logger) (*SQLiteQueue, error) {
	// Build connection string with SQLite pragmas for optimal performance
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=2000", escapeURIPath(dbPath))

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; avoids "database is locked" under concurrent enqueues
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	q := &SQLiteQueue{
		db:     db,
		logger: logger,
	}

	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite task queue initialized",
		zap.String("database_path", dbPath),
		zap.String("journal_mode", "WAL"))

	return q, nil
}

// initSchema creates the database schema if it doesn't exist
func (q *SQLiteQueue) initSchema() error {
	var version int
	if err := q.db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	if version == 0 {
		q.logger.Info("Initializing task queue schema (version 1)")
		if _, err := q.db.Exec(schemaSQL); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	q.logger.Debug("Task queue schema already exists", zap.Int("version", version))
	return nil
}

// Enqueue implements Queue
func (q *SQLiteQueue) Enqueue(ctx context.Context, text string, opts EnqueueOptions) (bool, error) {
	if q.closed.Load() {
		return false, ErrClosed
	}

	key := dedupKeyOrNew(opts.DedupKey)

	const query = `
		INSERT INTO notifications (id, dedup_key, routing_key, text, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedup_key) DO NOTHING`

	res, err := q.db.ExecContext(ctx, query,
		uuid.New().String(),
		key,
		opts.RoutingKey,
		text,
		StatusPending,
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if rows == 0 {
		q.logger.Debug("Duplicate notification ignored", zap.String("dedup_key", key))
		return false, nil
	}

	return true, nil
}

// Pending implements Queue
func (q *SQLiteQueue) Pending(ctx context.Context, limit int) ([]Notification, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	query := `
		SELECT id, dedup_key, routing_key, text, status, created_at, acked_at
		FROM notifications
		WHERE status = ?
		ORDER BY created_at ASC, rowid ASC`
	args := []interface{}{StatusPending}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	result := make([]Notification, 0)
	if err := q.db.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query pending notifications: %w", err)
	}
	return result, nil
}

// Ack implements Queue
func (q *SQLiteQueue) Ack(ctx context.Context, id string) error {
	if q.closed.Load() {
		return ErrClosed
	}

	var status string
	err := q.db.GetContext(ctx, &status, "SELECT status FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to query notification: %w", err)
	}
	if status == StatusAcked {
		return nil
	}

	if _, err := q.db.ExecContext(ctx,
		"UPDATE notifications SET status = ?, acked_at = ? WHERE id = ?",
		StatusAcked, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("failed to ack notification: %w", err)
	}
	return nil
}

// Close implements Queue
func (q *SQLiteQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	return q.db.Close()
}
