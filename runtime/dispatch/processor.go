package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/engine"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/telemetry"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/transport"
)

// Default names under which the dispatcher workflow and its activities are
// registered with the engine.
const (
	DefaultWorkflowName         = "inbound_dispatch"
	DefaultDispatchActivityName = "dispatch_message"
	DefaultSendActivityName     = "send_message"
)

// DefaultDispatchTimeout bounds a single dispatch activity attempt.
const DefaultDispatchTimeout = 10 * time.Minute

// DefaultRetryPolicy returns the retry policy applied to handler execution:
// up to 5 attempts with exponential backoff from 5 seconds, capped at 3
// minutes between attempts.
func DefaultRetryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts:        5,
		InitialInterval:    5 * time.Second,
		MaxInterval:        3 * time.Minute,
		BackoffCoefficient: 2.0,
	}
}

// defaultSendRetryPolicy covers error notices and webhook responses. Sends
// are small and idempotent on the backend side, so a short policy suffices.
func defaultSendRetryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    time.Second,
		MaxInterval:        30 * time.Second,
		BackoffCoefficient: 2.0,
	}
}

type (
	// ProcessorOption configures a Processor.
	ProcessorOption func(*Processor)

	// Processor drives the inbound-message pipeline. Its workflow-side methods
	// (WorkflowHandler, ProcessMessage) run in the coordination domain and
	// express every side effect as an activity submission; its activity-side
	// methods (DispatchActivity, SendActivity) run handlers and transport
	// calls in the execution domain. One Processor serves all workflow types
	// registered in its Registry.
	Processor struct {
		registry  *Registry
		transport transport.Transport

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		retry           engine.RetryPolicy
		sendRetry       engine.RetryPolicy
		dispatchTimeout time.Duration
		sendTimeout     time.Duration

		workflowName string
		dispatchName string
		sendName     string
		taskQueue    string
	}
)

// WithLogger sets the logger for pipeline diagnostics.
func WithLogger(l telemetry.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithMetrics sets the metrics sink for dispatch counters and timers.
func WithMetrics(m telemetry.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithTracer sets the tracer wrapping handler executions.
func WithTracer(t telemetry.Tracer) ProcessorOption {
	return func(p *Processor) { p.tracer = t }
}

// WithRetryPolicy overrides the handler-execution retry policy.
func WithRetryPolicy(rp engine.RetryPolicy) ProcessorOption {
	return func(p *Processor) { p.retry = rp }
}

// WithDispatchTimeout overrides the per-attempt handler execution timeout.
func WithDispatchTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.dispatchTimeout = d
		}
	}
}

// WithTaskQueue sets the task queue the dispatcher workflow registers on.
func WithTaskQueue(q string) ProcessorOption {
	return func(p *Processor) { p.taskQueue = q }
}

// WithNames overrides the registered workflow and activity names. Empty
// values keep the defaults.
func WithNames(workflow, dispatch, send string) ProcessorOption {
	return func(p *Processor) {
		if workflow != "" {
			p.workflowName = workflow
		}
		if dispatch != "" {
			p.dispatchName = dispatch
		}
		if send != "" {
			p.sendName = send
		}
	}
}

// NewProcessor creates a Processor over the given registry and transport.
func NewProcessor(registry *Registry, tr transport.Transport, opts ...ProcessorOption) (*Processor, error) {
	if registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if tr == nil {
		return nil, fmt.Errorf("dispatch: transport is required")
	}
	p := &Processor{
		registry:        registry,
		transport:       tr,
		logger:          telemetry.NewNoopLogger(),
		metrics:         telemetry.NewNoopMetrics(),
		tracer:          telemetry.NewNoopTracer(),
		retry:           DefaultRetryPolicy(),
		sendRetry:       defaultSendRetryPolicy(),
		dispatchTimeout: DefaultDispatchTimeout,
		sendTimeout:     30 * time.Second,
		workflowName:    DefaultWorkflowName,
		dispatchName:    DefaultDispatchActivityName,
		sendName:        DefaultSendActivityName,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// ProcessMessage runs one inbound message through the pipeline: type filter,
// tenant extraction, handler resolution, validation, then durable handler
// execution. It runs in the coordination domain and performs no I/O; every
// outbound effect is an activity submission.
//
// The returned error reports engine-level failures only (a send activity
// that could not be scheduled). Handler failures and validation rejections
// are terminal outcomes for the message, surfaced to the participant and
// swallowed here so one poisoned message never wedges the instance.
func (p *Processor) ProcessMessage(wctx engine.WorkflowContext, workflowType string, msg *messaging.InboundMessage) error {
	ctx := wctx.Context()

	msgType, supported := messaging.ParseMessageType(string(msg.Type))
	if !supported {
		// Unsupported types are dropped silently: there is no channel to
		// answer on.
		p.logger.Warn(ctx, "dropping message with unsupported type",
			"type", string(msg.Type), "workflow_id", wctx.WorkflowID())
		return nil
	}

	tenant, err := messaging.TenantFromWorkflowID(wctx.WorkflowID())
	if err != nil {
		// Without a tenant no response can be safely addressed; the drop is
		// logged but silent toward the caller.
		p.logger.Error(ctx, "dropping message: tenant extraction failed",
			"workflow_id", wctx.WorkflowID(), "err", err)
		return nil
	}

	meta, ok := p.registry.Lookup(workflowType)
	if !ok {
		text := fmt.Sprintf("No handler registered for workflow type '%s'", workflowType)
		if msgType == messaging.MessageTypeWebhook {
			return p.sendWebhookResponse(wctx, tenant, workflowType, msg, &messaging.WebhookResponse{
				StatusCode:  http.StatusNotFound,
				Content:     text,
				ContentType: "text/plain",
			})
		}
		return p.sendErrorNotice(wctx, tenant, workflowType, msgType, msg, text)
	}

	if text, ok := missingHandlerText(meta, msgType, workflowType); ok {
		if msgType == messaging.MessageTypeWebhook {
			return p.sendWebhookResponse(wctx, tenant, workflowType, msg, &messaging.WebhookResponse{
				StatusCode:  http.StatusNotFound,
				Content:     text,
				ContentType: "text/plain",
			})
		}
		return p.sendErrorNotice(wctx, tenant, workflowType, msgType, msg, text)
	}

	// Tenant isolation is checked before agent targeting so a cross-tenant
	// probe learns nothing about agent names.
	if !TenantAllowed(meta, tenant, msg.TenantID) {
		text := fmt.Sprintf("Message rejected: tenant isolation violation for workflow type '%s'", workflowType)
		p.logger.Warn(ctx, "rejecting cross-tenant message",
			"workflow_id", wctx.WorkflowID(), "asserted_tenant", msg.TenantID)
		if msgType == messaging.MessageTypeWebhook {
			return p.sendWebhookResponse(wctx, tenant, workflowType, msg, &messaging.WebhookResponse{
				StatusCode:  http.StatusForbidden,
				Content:     text,
				ContentType: "text/plain",
			})
		}
		return p.sendErrorNotice(wctx, tenant, workflowType, msgType, msg, text)
	}

	if !AgentMatches(meta, msg.Agent) {
		text := fmt.Sprintf("Message rejected: message targets agent '%s' but workflow type '%s' is registered to agent '%s'",
			msg.Agent, workflowType, meta.AgentName)
		if msgType == messaging.MessageTypeWebhook {
			return p.sendWebhookResponse(wctx, tenant, workflowType, msg, &messaging.WebhookResponse{
				StatusCode:  http.StatusForbidden,
				Content:     text,
				ContentType: "text/plain",
			})
		}
		return p.sendErrorNotice(wctx, tenant, workflowType, msgType, msg, text)
	}

	req := &messaging.ExecutionRequest{
		WorkflowID:   wctx.WorkflowID(),
		WorkflowType: workflowType,
		TenantID:     tenant,
		Message:      *msg,
	}
	result, err := wctx.ExecuteDispatchActivity(ctx, engine.DispatchActivityCall{
		Name:  p.dispatchName,
		Input: req,
		Options: engine.ActivityOptions{
			RetryPolicy: p.retry,
			Timeout:     p.dispatchTimeout,
		},
	})

	if msgType == messaging.MessageTypeWebhook {
		// Exactly one response per webhook message, success or failure.
		resp := &messaging.WebhookResponse{StatusCode: http.StatusOK, ContentType: "application/json"}
		if err != nil {
			resp = &messaging.WebhookResponse{
				StatusCode:  http.StatusInternalServerError,
				Content:     RootCause(err),
				ContentType: "text/plain",
			}
			p.logger.Error(ctx, "webhook handler failed after retries",
				"workflow_type", workflowType, "workflow_id", wctx.WorkflowID(), "err", err)
		} else if result != nil && result.Webhook != nil {
			resp = result.Webhook
		}
		return p.sendWebhookResponse(wctx, tenant, workflowType, msg, resp)
	}

	if err != nil {
		p.logger.Error(ctx, "handler failed after retries",
			"workflow_type", workflowType, "workflow_id", wctx.WorkflowID(), "err", err)
		return p.sendErrorNotice(wctx, tenant, workflowType, msgType, msg,
			"Error processing message: "+RootCause(err))
	}
	return nil
}

// missingHandlerText returns the participant-facing text for a registered
// workflow type whose slot for the message type is empty.
func missingHandlerText(meta *HandlerMetadata, t messaging.MessageType, workflowType string) (string, bool) {
	mh, wh := meta.handlerFor(t)
	switch t {
	case messaging.MessageTypeChat:
		if mh == nil {
			return fmt.Sprintf("No chat handler registered for workflow type '%s'. Use OnUserChatMessage() to register one.", workflowType), true
		}
	case messaging.MessageTypeData:
		if mh == nil {
			return fmt.Sprintf("No data handler registered for workflow type '%s'. Use OnUserDataMessage() to register one.", workflowType), true
		}
	case messaging.MessageTypeWebhook:
		if wh == nil {
			return fmt.Sprintf("No webhook handler registered for workflow type '%s'. Use OnWebhookMessage() to register one.", workflowType), true
		}
	}
	return "", false
}

// sendErrorNotice delivers a processor-generated error message back to the
// participant on the channel the message arrived on.
func (p *Processor) sendErrorNotice(wctx engine.WorkflowContext, tenant, workflowType string, t messaging.MessageType, msg *messaging.InboundMessage, text string) error {
	return wctx.ExecuteSendActivity(wctx.Context(), engine.SendActivityCall{
		Name: p.sendName,
		Input: &messaging.SendRequest{
			ParticipantID: msg.ParticipantID,
			WorkflowID:    wctx.WorkflowID(),
			WorkflowType:  workflowType,
			RequestID:     msg.RequestID,
			Scope:         msg.Scope,
			Text:          text,
			TenantID:      tenant,
			Authorization: msg.Authorization,
			ThreadID:      msg.ThreadID,
			Type:          t,
		},
		Options: engine.ActivityOptions{
			RetryPolicy: p.sendRetry,
			Timeout:     p.sendTimeout,
		},
	})
}

// sendWebhookResponse delivers the structured response on the webhook
// channel. The response travels as the data payload of a webhook-typed send.
func (p *Processor) sendWebhookResponse(wctx engine.WorkflowContext, tenant, workflowType string, msg *messaging.InboundMessage, resp *messaging.WebhookResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("dispatch: webhook response marshal: %w", err)
	}
	return wctx.ExecuteSendActivity(wctx.Context(), engine.SendActivityCall{
		Name: p.sendName,
		Input: &messaging.SendRequest{
			ParticipantID: msg.ParticipantID,
			WorkflowID:    wctx.WorkflowID(),
			WorkflowType:  workflowType,
			RequestID:     msg.RequestID,
			Scope:         msg.Scope,
			Data:          raw,
			TenantID:      tenant,
			Authorization: msg.Authorization,
			ThreadID:      msg.ThreadID,
			Type:          messaging.MessageTypeWebhook,
		},
		Options: engine.ActivityOptions{
			RetryPolicy: p.sendRetry,
			Timeout:     p.sendTimeout,
		},
	})
}
