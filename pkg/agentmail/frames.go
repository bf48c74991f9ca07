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

// Frame type discriminators on the event stream
const (
	FrameTypeSubscribe  = "subscribe"
	FrameTypeSubscribed = "subscribed"
	FrameTypeEvent      = "event"
	FrameTypeError      = "error"
)

// EventTypeMessageReceived is the lifecycle event for a new inbound email
const EventTypeMessageReceived = "message.received"

// Envelope carries only the discriminator shared by every frame
type Envelope struct {
	Type string `json:"type"`
}

// SubscribeRequest is sent once right after a session opens
type SubscribeRequest struct {
	Type       string   `json:"type"`
	InboxIDs   []string `json:"inbox_ids"`
	EventTypes []string `json:"event_types,omitempty"`
}

// NewSubscribeRequest builds a subscribe frame for one inbox.
// An empty eventTypes subscribes to every event type.
func NewSubscribeRequest(inboxID string, eventTypes []string) SubscribeRequest {
	return SubscribeRequest{
		Type:       FrameTypeSubscribe,
		InboxIDs:   []string{inboxID},
		EventTypes: eventTypes,
	}
}

// SubscribedFrame acknowledges a subscribe request
type SubscribedFrame struct {
	Type     string   `json:"type"`
	InboxIDs []string `json:"inbox_ids"`
}

// EventFrame is a lifecycle event; Message is populated for message events
type EventFrame struct {
	Type      string   `json:"type"`
	EventType string   `json:"event_type"`
	EventID   string   `json:"event_id"`
	Message   *Message `json:"message,omitempty"`
}

// Message is the email payload of a message event
type Message struct {
	InboxID   string   `json:"inbox_id"`
	ThreadID  string   `json:"thread_id"`
	MessageID string   `json:"message_id"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	Preview   string   `json:"preview"`
	Text      string   `json:"text"`
	HTML      string   `json:"html"`
	Timestamp string   `json:"timestamp"`
	Labels    []string `json:"labels"`
}

// ErrorFrame is a server-reported error. It does not end the session.
type ErrorFrame struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Message string `json:"message"`
}
