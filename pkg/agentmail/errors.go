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

package agentmail

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the provider rejects the credential during the handshake
var ErrUnauthorized = errors.New("agentmail rejected the credential")

// ConnectionError reports a failure to establish a session
type ConnectionError struct {
	Op         string // Operation that failed, e.g. "dial"
	StatusCode int    // HTTP status from a failed upgrade, 0 if none
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agentmail %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agentmail %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsAuthError checks if an error is a credential rejection
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
