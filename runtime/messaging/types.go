// Package messaging defines the shared types that cross the
// coordination/execution boundary of the inbound-message dispatch runtime.
// Everything here is plain serializable data: no live handles, no open
// connections. Values are immutable once received.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the kind of an inbound or outbound message.
type MessageType string

const (
	// MessageTypeChat is a conversational user message.
	MessageTypeChat MessageType = "Chat"
	// MessageTypeData is a structured data message (A2A or system-originated).
	MessageTypeData MessageType = "Data"
	// MessageTypeWebhook is an HTTP-shaped message that expects exactly one
	// structured response per inbound message.
	MessageTypeWebhook MessageType = "Webhook"
	// MessageTypeHandoff marks an outbound conversation transfer to another
	// workflow type. Handoffs are never dispatched inbound by this runtime.
	MessageTypeHandoff MessageType = "Handoff"
)

// ParseMessageType normalizes a wire-level type string into a MessageType.
// Matching is case-insensitive. The second return value reports whether the
// type is one this runtime dispatches (chat, data or webhook).
func ParseMessageType(s string) (MessageType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chat":
		return MessageTypeChat, true
	case "data":
		return MessageTypeData, true
	case "webhook":
		return MessageTypeWebhook, true
	default:
		return MessageType(s), false
	}
}

type (
	// InboundMessage is a message delivered by the transport collaborator to a
	// running workflow instance. It is created once when the message arrives
	// and consumed exactly once by the message processor.
	InboundMessage struct {
		// Type selects the handler slot (chat, data or webhook).
		Type MessageType `json:"type"`

		// Text is the message body for chat messages and the optional textual
		// payload for data and webhook messages.
		Text string `json:"text,omitempty"`

		// ParticipantID identifies the originating participant. Replies and
		// error notices are addressed to this participant.
		ParticipantID string `json:"participantId"`

		// RequestID correlates the message with its eventual response.
		RequestID string `json:"requestId,omitempty"`

		// Scope groups messages belonging to the same conversation scope.
		Scope string `json:"scope,omitempty"`

		// Hint carries optional processing guidance for the handler.
		Hint string `json:"hint,omitempty"`

		// Data is the structured payload for data and webhook messages.
		Data json.RawMessage `json:"data,omitempty"`

		// ThreadID identifies the originating channel thread, when any.
		ThreadID string `json:"threadId,omitempty"`

		// Authorization is the caller-supplied authorization token, forwarded
		// verbatim to handler-initiated replies.
		Authorization string `json:"authorization,omitempty"`

		// Agent optionally names the target agent. Empty means wildcard: any
		// agent registered for the workflow type may handle the message.
		Agent string `json:"agent,omitempty"`

		// TenantID is the tenant asserted by the authenticated caller. It is
		// validated against the workflow's own tenant before dispatch; it is
		// never trusted as the workflow tenant itself.
		TenantID string `json:"tenantId,omitempty"`

		// Metadata carries arbitrary caller-provided key/value pairs.
		Metadata map[string]string `json:"metadata,omitempty"`
	}

	// ExecutionRequest is the serializable projection of an InboundMessage
	// plus the identity resolved by the coordination domain. It is the only
	// payload handed to the dispatch activity.
	ExecutionRequest struct {
		// WorkflowID is the durable identifier of the owning workflow instance.
		WorkflowID string `json:"workflowId"`

		// WorkflowType names the registered handler metadata to use.
		WorkflowType string `json:"workflowType"`

		// TenantID is the tenant extracted from the workflow's own identifier,
		// never from message content.
		TenantID string `json:"tenantId"`

		// Message is the inbound message being dispatched.
		Message InboundMessage `json:"message"`
	}

	// ExecutionResult is returned by the dispatch activity. Chat and data
	// handlers reply through their execution context, so the result is empty
	// for them; webhook handlers populate Webhook.
	ExecutionResult struct {
		// Webhook is the structured response produced by a webhook handler.
		// Nil for chat and data dispatches.
		Webhook *WebhookResponse `json:"webhook,omitempty"`
	}

	// WebhookResponse is the HTTP-shaped reply sent back on the webhook
	// channel. Exactly one response is sent per inbound webhook message,
	// whether the handler succeeds or fails.
	WebhookResponse struct {
		// StatusCode is the HTTP status equivalent (200, 403, 404, 500, ...).
		StatusCode int `json:"statusCode"`

		// Content is the response body.
		Content string `json:"content,omitempty"`

		// ContentType is the MIME type of Content. Defaults to application/json.
		ContentType string `json:"contentType,omitempty"`

		// Headers carries additional response headers.
		Headers map[string]string `json:"headers,omitempty"`
	}

	// SendRequest describes an outbound message handed to the transport
	// collaborator, either a handler-initiated reply or a processor-generated
	// error notice.
	SendRequest struct {
		ParticipantID string          `json:"participantId"`
		WorkflowID    string          `json:"workflowId"`
		WorkflowType  string          `json:"workflowType"`
		RequestID     string          `json:"requestId,omitempty"`
		Scope         string          `json:"scope,omitempty"`
		Text          string          `json:"text,omitempty"`
		Data          json.RawMessage `json:"data,omitempty"`
		TenantID      string          `json:"tenantId"`
		Authorization string          `json:"authorization,omitempty"`
		ThreadID      string          `json:"threadId,omitempty"`
		Hint          string          `json:"hint,omitempty"`
		Type          MessageType     `json:"type"`
	}

	// HistoryQuery selects a page of prior messages for one participant within
	// one workflow instance and tenant. Pages are 1-based.
	HistoryQuery struct {
		WorkflowID    string `json:"workflowId,omitempty"`
		WorkflowType  string `json:"workflowType,omitempty"`
		ParticipantID string `json:"participantId"`
		Scope         string `json:"scope,omitempty"`
		TenantID      string `json:"tenantId"`
		Page          int    `json:"page"`
		PageSize      int    `json:"pageSize"`
	}

	// DbMessage is an append-only history record owned by the external history
	// store. Records are fetched read-only, newest first.
	DbMessage struct {
		ID            string          `json:"id"`
		ParticipantID string          `json:"participantId"`
		RequestID     string          `json:"requestId,omitempty"`
		Direction     string          `json:"direction,omitempty"`
		Text          string          `json:"text,omitempty"`
		Data          json.RawMessage `json:"data,omitempty"`
		CreatedAt     time.Time       `json:"createdAt"`
	}

	// RunInput starts one dispatcher workflow instance. The workflow id itself
	// is carried by the engine start request; the input pins the workflow type
	// whose handler metadata governs every message processed by the instance.
	RunInput struct {
		// WorkflowType names the handler registration this instance dispatches to.
		WorkflowType string `json:"workflowType"`
	}

	// RunOutput summarizes a completed dispatcher workflow instance.
	RunOutput struct {
		// Processed counts the messages that reached a terminal state.
		Processed int `json:"processed"`
	}
)

// SignalInboundMessage is the engine signal name that delivers inbound
// messages to a running dispatcher workflow instance.
const SignalInboundMessage = "inbound_message"

// ErrNoTenant indicates a workflow identifier that carries no tenant prefix.
var ErrNoTenant = errors.New("workflow id carries no tenant")

// TenantFromWorkflowID extracts the tenant id from a workflow identifier of
// the form "tenant:rest". The tenant is always derived from the identifier,
// never from message content; extraction failure is fatal for the message.
func TenantFromWorkflowID(workflowID string) (string, error) {
	tenant, rest, ok := strings.Cut(workflowID, ":")
	if !ok || rest == "" {
		return "", fmt.Errorf("workflow id %q: %w", workflowID, ErrNoTenant)
	}
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return "", fmt.Errorf("workflow id %q: %w", workflowID, ErrNoTenant)
	}
	return tenant, nil
}
