package dispatch

import (
	"context"
	"fmt"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/engine"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

// WorkflowHandler returns the dispatcher workflow entry point. Each workflow
// instance drains its inbound signal queue strictly sequentially: a message's
// processing, including its handler execution and any error notice, completes
// before the next message is received. Ordering within an instance follows
// signal arrival order.
func (p *Processor) WorkflowHandler() engine.WorkflowFunc {
	return func(wctx engine.WorkflowContext, input *messaging.RunInput) (*messaging.RunOutput, error) {
		if input == nil || input.WorkflowType == "" {
			return nil, fmt.Errorf("dispatch: workflow type is required")
		}

		out := &messaging.RunOutput{}
		inbound := wctx.InboundMessages()
		ctx := wctx.Context()

		for {
			msg, err := inbound.Receive(ctx)
			if err != nil {
				// Cancellation or shutdown ends the instance; processed
				// messages already reached their terminal state.
				return out, nil
			}
			if err := p.ProcessMessage(wctx, input.WorkflowType, &msg); err != nil {
				// Engine-level send failure. The message reached a terminal
				// state but its notice was lost; log and keep draining.
				p.logger.Error(ctx, "failed to deliver dispatch outcome",
					"workflow_type", input.WorkflowType, "workflow_id", wctx.WorkflowID(), "err", err)
			}
			out.Processed++
		}
	}
}

// Register wires the dispatcher workflow and its activities into eng. Call it
// once per engine before starting workers or workflows.
func (p *Processor) Register(ctx context.Context, eng engine.Engine) error {
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      p.workflowName,
		TaskQueue: p.taskQueue,
		Handler:   p.WorkflowHandler(),
	}); err != nil {
		return fmt.Errorf("dispatch: register workflow: %w", err)
	}
	if err := eng.RegisterDispatchActivity(ctx, p.dispatchName, engine.ActivityOptions{
		RetryPolicy: p.retry,
		Timeout:     p.dispatchTimeout,
	}, p.DispatchActivity); err != nil {
		return fmt.Errorf("dispatch: register dispatch activity: %w", err)
	}
	if err := eng.RegisterSendActivity(ctx, p.sendName, engine.ActivityOptions{
		RetryPolicy: p.sendRetry,
		Timeout:     p.sendTimeout,
	}, p.SendActivity); err != nil {
		return fmt.Errorf("dispatch: register send activity: %w", err)
	}
	return nil
}
