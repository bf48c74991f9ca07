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

// Package events classifies event stream frames and turns new-message events
// into queued notifications.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/thisnick/openclaw-agentmail/pkg/agentmail"
)

// Kind is the classification of an inbound frame
type Kind int

const (
	// KindUnrecognized is any well-formed frame with an unknown discriminator
	KindUnrecognized Kind = iota
	// KindSubscribed acknowledges a subscribe request
	KindSubscribed
	// KindMessageReceived is the only event that is forwarded
	KindMessageReceived
	// KindOtherEvent is a valid lifecycle event that is not forwarded
	KindOtherEvent
	// KindServerError is an error reported by the provider
	KindServerError
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindSubscribed:
		return "subscribed"
	case KindMessageReceived:
		return "message_received"
	case KindOtherEvent:
		return "other_event"
	case KindServerError:
		return "server_error"
	default:
		return "unrecognized"
	}
}

// Frame is a classified inbound frame. Exactly one payload field is set for
// the subscribed, event and error kinds.
type Frame struct {
	Kind       Kind
	Type       string
	Subscribed *agentmail.SubscribedFrame
	Event      *agentmail.EventFrame
	Error      *agentmail.ErrorFrame
}

// Classify parses raw and maps it to a Kind. It returns an error only when
// raw is not a JSON object or a known frame type has a malformed body.
func Classify(raw []byte) (Frame, error) {
	var env agentmail.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, fmt.Errorf("failed to parse frame: %w", err)
	}

	frame := Frame{Kind: KindUnrecognized, Type: env.Type}

	switch env.Type {
	case agentmail.FrameTypeSubscribed:
		var sub agentmail.SubscribedFrame
		if err := json.Unmarshal(raw, &sub); err != nil {
			return Frame{}, fmt.Errorf("failed to parse subscribed frame: %w", err)
		}
		frame.Kind = KindSubscribed
		frame.Subscribed = &sub

	case agentmail.FrameTypeEvent:
		var ev agentmail.EventFrame
		if err := json.Unmarshal(raw, &ev); err != nil {
			return Frame{}, fmt.Errorf("failed to parse event frame: %w", err)
		}
		frame.Event = &ev
		if ev.EventType == agentmail.EventTypeMessageReceived {
			frame.Kind = KindMessageReceived
		} else {
			frame.Kind = KindOtherEvent
		}

	case agentmail.FrameTypeError:
		var ef agentmail.ErrorFrame
		if err := json.Unmarshal(raw, &ef); err != nil {
			return Frame{}, fmt.Errorf("failed to parse error frame: %w", err)
		}
		frame.Kind = KindServerError
		frame.Error = &ef
	}

	return frame, nil
}
