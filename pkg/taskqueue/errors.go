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

import "errors"

var (
	// ErrNotFound is returned when a queued notification does not exist
	ErrNotFound = errors.New("notification not found")

	// ErrClosed is returned when the queue has been closed
	ErrClosed = errors.New("task queue is closed")
)

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClosedError checks if an error is a closed queue error
func IsClosedError(err error) bool {
	return errors.Is(err, ErrClosed)
}
