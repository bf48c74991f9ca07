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

// Package backoff computes reconnect delays for the event stream supervisor.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// MinDelay is the delay before the first retry after a failure.
	MinDelay = 1000 * time.Millisecond
	// MaxDelay caps every computed delay, jitter included.
	MaxDelay = 60000 * time.Millisecond
	// Factor is the exponential growth rate between consecutive attempts.
	Factor = 2.0
	// Jitter is the symmetric jitter ratio applied to the clamped base delay.
	Jitter = 0.1
)

// Policy maps an attempt number to a reconnect delay.
type Policy struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns the policy used by the supervisor.
func DefaultPolicy() Policy {
	return Policy{
		Min:    MinDelay,
		Max:    MaxDelay,
		Factor: Factor,
		Jitter: Jitter,
	}
}

// Delay returns the delay for attempt n using the default policy.
func Delay(n int) time.Duration {
	return DefaultPolicy().Delay(n)
}

// Base returns the clamped, un-jittered delay for attempt n.
func (p Policy) Base(n int) time.Duration {
	if n <= 0 {
		return 0
	}

	base := float64(p.Min) * math.Pow(p.Factor, float64(n-1))
	if math.IsInf(base, 0) || math.IsNaN(base) || base > float64(p.Max) {
		return p.Max
	}
	return time.Duration(base)
}

// Delay returns the jittered delay for attempt n.
// Attempt 0 connects immediately; attempt n >= 1 waits Min*Factor^(n-1),
// clamped to Max, with +/- Jitter applied and re-clamped to [0, Max].
func (p Policy) Delay(n int) time.Duration {
	base := p.Base(n)
	if base == 0 {
		return 0
	}

	draw := p.random()
	delta := float64(base) * p.Jitter * (2*draw - 1)
	delay := time.Duration(float64(base) + delta)

	if delay < 0 {
		delay = 0
	}
	if delay > p.Max {
		delay = p.Max
	}
	return delay
}

func (p Policy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}
