// Package dispatch implements the inbound-message pipeline: handler
// registration, message validation, the processing state machine that turns
// every inbound message into a handler execution or a user-visible error, and
// the execution contexts handed to user handlers.
//
// The pipeline is split across the two engine domains. The processor's
// workflow side (ProcessMessage) runs in the deterministic coordination
// domain and performs no I/O: it validates, resolves and schedules. The
// activity side (DispatchActivity, SendActivity) runs handler bodies and
// transport calls in the execution domain.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

type (
	// MessageHandler processes one inbound chat or data message. Handlers
	// reply through the execution context; a returned error is retried per
	// the dispatch retry policy and, after exhaustion, surfaced to the
	// participant as an error notice. Handlers may be re-invoked on retry and
	// must tolerate it.
	MessageHandler func(ctx context.Context, mc *MessageContext) error

	// WebhookHandler processes one inbound webhook message by populating
	// mc.Response. A returned error is converted into a 500-equivalent
	// response after retries; the response is always sent.
	WebhookHandler func(ctx context.Context, wc *WebhookContext) error

	// MessageMiddleware wraps a chat or data handler before insertion into
	// the registry, for cross-cutting concerns like input/output tracking.
	MessageMiddleware func(next MessageHandler) MessageHandler

	// WebhookMiddleware wraps a webhook handler before insertion into the
	// registry.
	WebhookMiddleware func(next WebhookHandler) WebhookHandler

	// HandlerMetadata describes the handlers registered for one workflow
	// type. Instances are immutable after registration; re-registration
	// replaces the whole value, never mutates it.
	HandlerMetadata struct {
		// AgentName identifies the agent owning the workflow type. Messages
		// carrying an explicit target agent must match it exactly.
		AgentName string

		// SystemScoped permits cross-tenant dispatch. System-scoped agents are
		// intentionally shared; tenant isolation is not enforced for them.
		SystemScoped bool

		// ChatHandler handles chat messages, when set.
		ChatHandler MessageHandler

		// DataHandler handles data messages, when set.
		DataHandler MessageHandler

		// WebhookHandler handles webhook messages, when set.
		WebhookHandler WebhookHandler
	}

	// Registry maps workflow-type names to their handler metadata. It is the
	// only state shared across workflow instances: read-heavy, written once
	// per type at startup. Lookups are safe while registrations for other
	// keys are in flight. Registration is last-write-wins: re-registering a
	// workflow type atomically replaces its metadata snapshot.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]*HandlerMetadata

		messageMW []MessageMiddleware
		webhookMW []WebhookMiddleware
	}
)

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*HandlerMetadata)}
}

// Use appends middleware applied to every handler registered afterwards.
// Middlewares run in registration order, outermost first.
func (r *Registry) Use(mws ...MessageMiddleware) {
	r.mu.Lock()
	r.messageMW = append(r.messageMW, mws...)
	r.mu.Unlock()
}

// UseWebhook appends middleware applied to every webhook handler registered
// afterwards.
func (r *Registry) UseWebhook(mws ...WebhookMiddleware) {
	r.mu.Lock()
	r.webhookMW = append(r.webhookMW, mws...)
	r.mu.Unlock()
}

// Register binds metadata to a workflow type. The metadata is copied and any
// configured middleware is applied to its handler slots before insertion, so
// later changes to meta by the caller have no effect. Registering an already
// known type replaces its metadata.
func (r *Registry) Register(workflowType string, meta HandlerMetadata) error {
	workflowType = strings.TrimSpace(workflowType)
	if workflowType == "" {
		return fmt.Errorf("workflow type is required")
	}
	if strings.TrimSpace(meta.AgentName) == "" {
		return fmt.Errorf("workflow type %q: agent name is required", workflowType)
	}
	if meta.ChatHandler == nil && meta.DataHandler == nil && meta.WebhookHandler == nil {
		return fmt.Errorf("workflow type %q: at least one handler is required", workflowType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := meta
	for i := len(r.messageMW) - 1; i >= 0; i-- {
		if snapshot.ChatHandler != nil {
			snapshot.ChatHandler = r.messageMW[i](snapshot.ChatHandler)
		}
		if snapshot.DataHandler != nil {
			snapshot.DataHandler = r.messageMW[i](snapshot.DataHandler)
		}
	}
	for i := len(r.webhookMW) - 1; i >= 0; i-- {
		if snapshot.WebhookHandler != nil {
			snapshot.WebhookHandler = r.webhookMW[i](snapshot.WebhookHandler)
		}
	}

	r.entries[workflowType] = &snapshot
	return nil
}

// Lookup returns the metadata registered for a workflow type.
func (r *Registry) Lookup(workflowType string) (*HandlerMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.entries[workflowType]
	return meta, ok
}

// Types returns the registered workflow-type names in unspecified order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}

// handlerFor returns the handler slot matching the message type, or nils
// when the slot is empty.
func (m *HandlerMetadata) handlerFor(t messaging.MessageType) (MessageHandler, WebhookHandler) {
	switch t {
	case messaging.MessageTypeChat:
		return m.ChatHandler, nil
	case messaging.MessageTypeData:
		return m.DataHandler, nil
	case messaging.MessageTypeWebhook:
		return nil, m.WebhookHandler
	default:
		return nil, nil
	}
}
