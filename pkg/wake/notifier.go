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

// Package wake nudges the local agent gateway after a notification is queued.
//
// Waking is best effort. The notification is already queued, so a failed
// wake only delays processing until the agent's next scheduled check.
package wake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thisnick/openclaw-agentmail/pkg/metrics"
	"go.uber.org/zap"
)

// Wake endpoints on the local gateway
const (
	ToolInvokePath = "/tools/invoke"
	HookPath       = "/hooks/wake"
)

// Notifier is one wake strategy
type Notifier interface {
	// Name identifies the strategy in logs and metrics
	Name() string
	// Wake makes at most one attempt to wake the agent
	Wake(ctx context.Context, text string) error
}

// ToolInvokeRequest is the body posted to /tools/invoke
type ToolInvokeRequest struct {
	Tool string         `json:"tool"`
	Args ToolInvokeArgs `json:"args"`
}

// ToolInvokeArgs are the cron tool arguments for an immediate wake
type ToolInvokeArgs struct {
	Action string `json:"action"`
	Text   string `json:"text"`
	Mode   string `json:"mode"`
}

// HookRequest is the body posted to /hooks/wake
type HookRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

// StatusError reports a non-2xx response from the gateway
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// httpStrategy posts a JSON body with a bearer token
type httpStrategy struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
	body     func(text string) interface{}
}

func newHTTPStrategy(name, endpoint, token string, timeout time.Duration, body func(string) interface{}) *httpStrategy {
	return &httpStrategy{
		name:     name,
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		body:     body,
	}
}

func (s *httpStrategy) Name() string {
	return s.name
}

func (s *httpStrategy) Wake(ctx context.Context, text string) error {
	start := time.Now()
	err := s.post(ctx, text)
	metrics.WakeDurationSeconds.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	return err
}

func (s *httpStrategy) post(ctx context.Context, text string) error {
	jsonData, err := json.Marshal(s.body(text))
	if err != nil {
		return fmt.Errorf("failed to marshal wake request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create wake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("wake request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// NewToolInvoke wakes the agent through the cron tool's "wake" action
func NewToolInvoke(baseURL, token string, timeout time.Duration) Notifier {
	return newHTTPStrategy("invoke-tool", baseURL+ToolInvokePath, token, timeout, func(text string) interface{} {
		return ToolInvokeRequest{
			Tool: "cron",
			Args: ToolInvokeArgs{Action: "wake", Text: text, Mode: "now"},
		}
	})
}

// NewHook wakes the agent through the wake hook
func NewHook(baseURL, token string, timeout time.Duration) Notifier {
	return newHTTPStrategy("hook-call", baseURL+HookPath, token, timeout, func(text string) interface{} {
		return HookRequest{Text: text, Mode: "now"}
	})
}

// Noop never wakes the agent
type Noop struct{}

// Name implements Notifier
func (Noop) Name() string { return "disabled" }

// Wake implements Notifier
func (Noop) Wake(ctx context.Context, text string) error { return nil }

// Chain tries each strategy in order until one succeeds. Every strategy is
// tried at most once per Wake call.
type Chain struct {
	strategies []Notifier
	logger     *zap.Logger
}

// NewChain creates a chain over strategies
func NewChain(logger *zap.Logger, strategies ...Notifier) *Chain {
	return &Chain{strategies: strategies, logger: logger}
}

// Name returns the names of the strategies joined by ">"
func (c *Chain) Name() string {
	name := ""
	for i, s := range c.strategies {
		if i > 0 {
			name += ">"
		}
		name += s.Name()
	}
	return name
}

// Strategies returns the strategy names in order
func (c *Chain) Strategies() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Wake implements Notifier. It returns the last strategy's error when all fail.
func (c *Chain) Wake(ctx context.Context, text string) error {
	var lastErr error
	for i, s := range c.strategies {
		err := s.Wake(ctx, text)
		if err == nil {
			metrics.WakeRequestsTotal.WithLabelValues(s.Name(), "success").Inc()
			return nil
		}

		metrics.WakeRequestsTotal.WithLabelValues(s.Name(), "failure").Inc()
		lastErr = fmt.Errorf("%s: %w", s.Name(), err)

		if i < len(c.strategies)-1 {
			c.logger.Warn("Wake strategy failed, trying next",
				zap.String("strategy", s.Name()),
				zap.String("next_strategy", c.strategies[i+1].Name()),
				zap.Error(err),
			)
		}
	}
	return lastErr
}
