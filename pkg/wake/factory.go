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

package wake

import (
	"fmt"
	"strings"

	"github.com/thisnick/openclaw-agentmail/pkg/config"
	"github.com/thisnick/openclaw-agentmail/pkg/logger"
	"go.uber.org/zap"
)

// NewFromConfig builds the strategy chain for cfg.Mode. The selected mode is
// the primary strategy; with FallbackToHook the hook strategy follows
// invoke-tool. A strategy whose token is missing is left out, and an empty
// chain degrades to Noop.
func NewFromConfig(cfg config.WakeConfig, log *zap.Logger) *Chain {
	baseURL := fmt.Sprintf("http://%s:%d", cfg.GatewayHost, cfg.GatewayPort)

	var strategies []Notifier
	addToolInvoke := func() {
		if strings.TrimSpace(cfg.GatewayToken) == "" {
			log.Warn("Wake mode invoke-tool requires a gateway token, skipping strategy",
				zap.String("troubleshooting", "Set AGENTMAIL_BRIDGE_GATEWAY_TOKEN or wake.gateway_token"))
			return
		}
		strategies = append(strategies, NewToolInvoke(baseURL, cfg.GatewayToken, cfg.Timeout))
	}
	addHook := func() {
		if strings.TrimSpace(cfg.HooksToken) == "" {
			log.Warn("Wake mode hook-call requires a hooks token, skipping strategy",
				zap.String("troubleshooting", "Set AGENTMAIL_BRIDGE_HOOKS_TOKEN or wake.hooks_token"))
			return
		}
		strategies = append(strategies, NewHook(baseURL, cfg.HooksToken, cfg.Timeout))
	}

	switch cfg.Mode {
	case config.WakeModeInvokeTool:
		addToolInvoke()
		if cfg.FallbackToHook {
			addHook()
		}
	case config.WakeModeHookCall:
		addHook()
	case config.WakeModeDisabled:
	default:
		log.Warn("Unknown wake mode, wake disabled", zap.String("mode", string(cfg.Mode)))
	}

	if len(strategies) == 0 {
		strategies = append(strategies, Noop{})
	}

	chain := NewChain(log, strategies...)
	log.Info("Wake notifier configured",
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("strategies", chain.Strategies()),
		zap.String("gateway", baseURL),
		zap.String("gateway_token", logger.MaskSecret(cfg.GatewayToken)),
		zap.String("hooks_token", logger.MaskSecret(cfg.HooksToken)),
	)
	return chain
}
