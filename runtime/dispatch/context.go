package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/transport"
)

// defaultHistoryPageSize is used when a handler asks for history without
// specifying a page size.
const defaultHistoryPageSize = 50

// MessageContext is handed to chat and data handlers. It exposes the inbound
// message, identity resolved by the coordination domain, and transport-backed
// operations: replying, paging conversation history and handing the
// conversation off to another workflow type. Contexts live in the execution
// domain, so every operation may perform I/O and takes a context.Context.
type MessageContext struct {
	request   *messaging.ExecutionRequest
	transport transport.Transport
}

func newMessageContext(req *messaging.ExecutionRequest, tr transport.Transport) *MessageContext {
	return &MessageContext{request: req, transport: tr}
}

// Message returns the inbound message being handled.
func (c *MessageContext) Message() *messaging.InboundMessage {
	return &c.request.Message
}

// WorkflowID returns the durable identifier of the owning workflow instance.
func (c *MessageContext) WorkflowID() string { return c.request.WorkflowID }

// WorkflowType returns the workflow type the message was dispatched under.
func (c *MessageContext) WorkflowType() string { return c.request.WorkflowType }

// TenantID returns the tenant owning the workflow instance, extracted from
// the workflow identifier.
func (c *MessageContext) TenantID() string { return c.request.TenantID }

// Reply sends a text reply to the originating participant, mirroring the
// inbound message's correlation fields.
func (c *MessageContext) Reply(ctx context.Context, text string) error {
	req := c.sendRequest()
	req.Text = text
	return c.transport.SendMessage(ctx, req)
}

// ReplyWithData sends a reply carrying both text and a structured payload.
func (c *MessageContext) ReplyWithData(ctx context.Context, text string, data json.RawMessage) error {
	req := c.sendRequest()
	req.Text = text
	req.Data = data
	return c.transport.SendMessage(ctx, req)
}

// ChatHistory fetches one page of prior messages for the originating
// participant, newest first. Pages are 1-based; non-positive values fall back
// to the first page and the default page size.
func (c *MessageContext) ChatHistory(ctx context.Context, page, pageSize int) ([]*messaging.DbMessage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultHistoryPageSize
	}
	return c.transport.GetHistory(ctx, &messaging.HistoryQuery{
		WorkflowID:    c.request.WorkflowID,
		WorkflowType:  c.request.WorkflowType,
		ParticipantID: c.request.Message.ParticipantID,
		Scope:         c.request.Message.Scope,
		TenantID:      c.request.TenantID,
		Page:          page,
		PageSize:      pageSize,
	})
}

// LastTaskID returns the request id of the most recent history record for the
// originating participant, or "" when the history is empty. Agents use it to
// resume a long-running task across messages.
func (c *MessageContext) LastTaskID(ctx context.Context) (string, error) {
	page, err := c.ChatHistory(ctx, 1, 1)
	if err != nil {
		return "", err
	}
	if len(page) == 0 {
		return "", nil
	}
	return page[0].RequestID, nil
}

// Handoff transfers the conversation to another workflow type. The inbound
// message travels with the handoff so the receiving workflow can resume from
// it.
func (c *MessageContext) Handoff(ctx context.Context, targetWorkflowType string) error {
	if targetWorkflowType == "" {
		return fmt.Errorf("handoff target workflow type is required")
	}
	req := c.sendRequest()
	req.WorkflowType = targetWorkflowType
	req.Text = c.request.Message.Text
	req.Data = c.request.Message.Data
	req.Type = messaging.MessageTypeHandoff
	return c.transport.SendHandoff(ctx, req)
}

func (c *MessageContext) sendRequest() *messaging.SendRequest {
	msg := &c.request.Message
	return &messaging.SendRequest{
		ParticipantID: msg.ParticipantID,
		WorkflowID:    c.request.WorkflowID,
		WorkflowType:  c.request.WorkflowType,
		RequestID:     msg.RequestID,
		Scope:         msg.Scope,
		TenantID:      c.request.TenantID,
		Authorization: msg.Authorization,
		ThreadID:      msg.ThreadID,
		Type:          msg.Type,
	}
}

// WebhookContext is handed to webhook handlers. It carries the base
// read-side operations of a message context (history, last task id) and
// additionally a mutable Response; the processor sends Response on the
// webhook channel exactly once, whatever the handler outcome. Webhook
// handlers answer through Response, not Reply, so the send operations are
// not exposed.
type WebhookContext struct {
	base *MessageContext

	// Response is the reply sent back on the webhook channel. It is
	// pre-populated with a 200/application/json skeleton the handler can
	// amend or replace wholesale.
	Response *messaging.WebhookResponse
}

func newWebhookContext(req *messaging.ExecutionRequest, tr transport.Transport) *WebhookContext {
	return &WebhookContext{
		base: newMessageContext(req, tr),
		Response: &messaging.WebhookResponse{
			StatusCode:  200,
			ContentType: "application/json",
		},
	}
}

// Message returns the inbound webhook message being handled.
func (c *WebhookContext) Message() *messaging.InboundMessage {
	return c.base.Message()
}

// WorkflowID returns the durable identifier of the owning workflow instance.
func (c *WebhookContext) WorkflowID() string { return c.base.WorkflowID() }

// WorkflowType returns the workflow type the message was dispatched under.
func (c *WebhookContext) WorkflowType() string { return c.base.WorkflowType() }

// TenantID returns the tenant owning the workflow instance.
func (c *WebhookContext) TenantID() string { return c.base.TenantID() }

// ChatHistory fetches one page of prior messages for the originating
// participant, newest first.
func (c *WebhookContext) ChatHistory(ctx context.Context, page, pageSize int) ([]*messaging.DbMessage, error) {
	return c.base.ChatHistory(ctx, page, pageSize)
}

// LastTaskID returns the request id of the most recent history record for
// the originating participant, or "" when the history is empty.
func (c *WebhookContext) LastTaskID(ctx context.Context) (string, error) {
	return c.base.LastTaskID(ctx)
}

// SetJSON marshals v into the response body with a JSON content type.
func (c *WebhookContext) SetJSON(status int, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("webhook response marshal: %w", err)
	}
	c.Response.StatusCode = status
	c.Response.Content = string(raw)
	c.Response.ContentType = "application/json"
	return nil
}
