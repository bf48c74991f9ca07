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

package events

import (
	"strings"

	"github.com/thisnick/openclaw-agentmail/pkg/agentmail"
)

const (
	// DedupKeyPrefix namespaces keys in the shared task queue
	DedupKeyPrefix = "agentmail:"
	// PreviewMaxChars bounds the body preview, counted in runes
	PreviewMaxChars = 200

	unknownSender  = "(unknown sender)"
	noSubject      = "(no subject)"
	unknownMessage = "unknown"
)

// Notification is the queued form of one message-received event
type Notification struct {
	InboxID    string
	MessageID  string
	From       string
	Subject    string
	Preview    string
	Text       string
	DedupKey   string
	RoutingKey string
}

// Normalize builds the notification for a message-received event.
// inboxID is used when the payload does not name its inbox.
func Normalize(inboxID, routingKey string, ev *agentmail.EventFrame) Notification {
	msg := ev.Message
	if msg == nil {
		msg = &agentmail.Message{}
	}

	n := Notification{
		InboxID:    firstNonBlank(msg.InboxID, inboxID),
		MessageID:  messageID(msg, ev.EventID),
		From:       firstNonBlank(msg.From, unknownSender),
		Subject:    firstNonBlank(msg.Subject, noSubject),
		Preview:    Preview(msg),
		RoutingKey: routingKey,
	}
	n.DedupKey = DedupKeyPrefix + n.MessageID
	n.Text = FormatText(n)
	return n
}

// DedupKey returns the queue dedup key for a message. The message id is
// preferred, then the event id, then the literal "unknown".
func DedupKey(msg *agentmail.Message, eventID string) string {
	return DedupKeyPrefix + messageID(msg, eventID)
}

func messageID(msg *agentmail.Message, eventID string) string {
	if msg != nil && strings.TrimSpace(msg.MessageID) != "" {
		return msg.MessageID
	}
	if strings.TrimSpace(eventID) != "" {
		return eventID
	}
	return unknownMessage
}

// Preview collapses whitespace in the message preview (or body when no
// preview is provided) and truncates it to PreviewMaxChars runes.
func Preview(msg *agentmail.Message) string {
	if msg == nil {
		return ""
	}

	source := msg.Preview
	if strings.TrimSpace(source) == "" {
		source = msg.Text
	}

	collapsed := strings.Join(strings.Fields(source), " ")
	runes := []rune(collapsed)
	if len(runes) > PreviewMaxChars {
		return string(runes[:PreviewMaxChars])
	}
	return collapsed
}

// FormatText renders the text handed to the agent's task queue
func FormatText(n Notification) string {
	var b strings.Builder
	b.WriteString("New email in inbox ")
	b.WriteString(n.InboxID)
	b.WriteString("\nFrom: ")
	b.WriteString(n.From)
	b.WriteString("\nSubject: ")
	b.WriteString(n.Subject)
	if n.Preview != "" {
		b.WriteString("\nPreview: ")
		b.WriteString(n.Preview)
	}
	b.WriteString("\nMessage ID: ")
	b.WriteString(n.MessageID)
	return b.String()
}

// WakeText is the short message sent with a wake request
func WakeText(n Notification) string {
	return "New email from " + n.From + ": " + n.Subject
}

func firstNonBlank(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
