package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

// DispatchActivity executes the handler resolved for req in the execution
// domain. The engine invokes it through the registered dispatch activity and
// owns its retries; a returned error means this attempt failed and may be
// retried per the dispatch retry policy.
//
// The handler is resolved again here rather than captured at schedule time:
// metadata snapshots are immutable, so a concurrent re-registration either
// fully applies or not at all, and the attempt sees exactly one snapshot.
func (p *Processor) DispatchActivity(ctx context.Context, req *messaging.ExecutionRequest) (*messaging.ExecutionResult, error) {
	if req == nil {
		return nil, NewHandlerError("dispatch request is required")
	}

	msgType, supported := messaging.ParseMessageType(string(req.Message.Type))
	if !supported {
		return nil, NewHandlerError(fmt.Sprintf("unsupported message type '%s'", req.Message.Type))
	}

	meta, ok := p.registry.Lookup(req.WorkflowType)
	if !ok {
		return nil, NewHandlerError(fmt.Sprintf("No handler registered for workflow type '%s'", req.WorkflowType))
	}
	msgHandler, webhookHandler := meta.handlerFor(msgType)

	ctx, span := p.tracer.Start(ctx, "dispatch.handle",
		trace.WithAttributes(
			attribute.String("workflow.type", req.WorkflowType),
			attribute.String("message.type", string(msgType)),
		))
	defer span.End()

	start := time.Now()
	result, err := p.invokeHandler(ctx, msgType, msgHandler, webhookHandler, req)

	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, RootCause(err))
	}
	p.metrics.IncCounter("dispatch_messages_total", 1,
		"type", string(msgType), "outcome", outcome)
	p.metrics.RecordTimer("dispatch_duration", time.Since(start),
		"type", string(msgType))

	return result, err
}

func (p *Processor) invokeHandler(ctx context.Context, msgType messaging.MessageType, msgHandler MessageHandler, webhookHandler WebhookHandler, req *messaging.ExecutionRequest) (result *messaging.ExecutionResult, err error) {
	// A panicking handler must fail the attempt, not the worker.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = NewHandlerError(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	switch msgType {
	case messaging.MessageTypeChat, messaging.MessageTypeData:
		if msgHandler == nil {
			return nil, NewHandlerError(fmt.Sprintf("no %s handler registered for workflow type '%s'",
				string(msgType), req.WorkflowType))
		}
		mc := newMessageContext(req, p.transport)
		if err := msgHandler(ctx, mc); err != nil {
			return nil, WrapHandlerError("handler execution failed", err)
		}
		return &messaging.ExecutionResult{}, nil

	case messaging.MessageTypeWebhook:
		if webhookHandler == nil {
			return nil, NewHandlerError(fmt.Sprintf("no webhook handler registered for workflow type '%s'",
				req.WorkflowType))
		}
		wc := newWebhookContext(req, p.transport)
		if err := webhookHandler(ctx, wc); err != nil {
			return nil, WrapHandlerError("webhook handler execution failed", err)
		}
		return &messaging.ExecutionResult{Webhook: wc.Response}, nil

	default:
		return nil, NewHandlerError(fmt.Sprintf("unsupported message type '%s'", msgType))
	}
}

// SendActivity delivers one outbound message through the transport
// collaborator. Handoffs are routed to the handoff endpoint; everything else
// is a regular send.
func (p *Processor) SendActivity(ctx context.Context, req *messaging.SendRequest) error {
	if req == nil {
		return NewHandlerError("send request is required")
	}
	if req.Type == messaging.MessageTypeHandoff {
		return p.transport.SendHandoff(ctx, req)
	}
	return p.transport.SendMessage(ctx, req)
}
