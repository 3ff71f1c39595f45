package inmem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/engine"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

func TestStartWorkflowRequiresRegistration(t *testing.T) {
	e := New()
	_, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID:       "acme:wf",
		Workflow: "missing",
	})
	require.ErrorContains(t, err, "not registered")
}

func TestDuplicateRegistrations(t *testing.T) {
	e := New()
	ctx := context.Background()
	wf := func(engine.WorkflowContext, *messaging.RunInput) (*messaging.RunOutput, error) {
		return &messaging.RunOutput{}, nil
	}
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: "wf", Handler: wf}))
	require.ErrorContains(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: "wf", Handler: wf}), "already registered")
}

func TestWorkflowRunsAndReturnsResult(t *testing.T) {
	e := New()
	ctx := context.Background()
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "wf",
		Handler: func(wctx engine.WorkflowContext, input *messaging.RunInput) (*messaging.RunOutput, error) {
			assert.Equal(t, "acme:wf:1", wctx.WorkflowID())
			return &messaging.RunOutput{Processed: 7}, nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "acme:wf:1",
		Workflow: "wf",
		Input:    &messaging.RunInput{WorkflowType: "Flow"},
	})
	require.NoError(t, err)

	out, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Processed)
}

func TestSignalDeliveryOrder(t *testing.T) {
	e := New()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "wf",
		Handler: func(wctx engine.WorkflowContext, _ *messaging.RunInput) (*messaging.RunOutput, error) {
			inbound := wctx.InboundMessages()
			for i := 0; i < 3; i++ {
				msg, err := inbound.Receive(wctx.Context())
				if err != nil {
					return nil, err
				}
				mu.Lock()
				got = append(got, msg.Text)
				mu.Unlock()
			}
			return &messaging.RunOutput{Processed: 3}, nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "acme:wf:1", Workflow: "wf"})
	require.NoError(t, err)

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, h.Signal(ctx, messaging.SignalInboundMessage, messaging.InboundMessage{Text: text}))
	}

	_, err = h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSignalByID(t *testing.T) {
	e := New()
	ctx := context.Background()
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "wf",
		Handler: func(wctx engine.WorkflowContext, _ *messaging.RunInput) (*messaging.RunOutput, error) {
			msg, err := wctx.InboundMessages().Receive(wctx.Context())
			if err != nil {
				return nil, err
			}
			return &messaging.RunOutput{Processed: len(msg.Text)}, nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "acme:wf:1", Workflow: "wf"})
	require.NoError(t, err)

	signaler, ok := e.(engine.Signaler)
	require.True(t, ok)

	require.ErrorIs(t,
		signaler.SignalByID(ctx, "acme:unknown", "", messaging.SignalInboundMessage, messaging.InboundMessage{}),
		engine.ErrWorkflowNotFound)

	require.NoError(t, signaler.SignalByID(ctx, "acme:wf:1", "", messaging.SignalInboundMessage,
		&messaging.InboundMessage{Text: "four"}))

	out, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Processed)
}

func TestActivityRetryPolicy(t *testing.T) {
	e := New()
	ctx := context.Background()

	var mu sync.Mutex
	attempts := 0
	require.NoError(t, e.RegisterDispatchActivity(ctx, "dispatch", engine.ActivityOptions{},
		func(context.Context, *messaging.ExecutionRequest) (*messaging.ExecutionResult, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return &messaging.ExecutionResult{}, nil
		}))

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "wf",
		Handler: func(wctx engine.WorkflowContext, _ *messaging.RunInput) (*messaging.RunOutput, error) {
			_, err := wctx.ExecuteDispatchActivity(wctx.Context(), engine.DispatchActivityCall{
				Name:  "dispatch",
				Input: &messaging.ExecutionRequest{},
				Options: engine.ActivityOptions{RetryPolicy: engine.RetryPolicy{
					MaxAttempts:        5,
					InitialInterval:    time.Millisecond,
					BackoffCoefficient: 2,
				}},
			})
			return &messaging.RunOutput{}, err
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "acme:wf:1", Workflow: "wf"})
	require.NoError(t, err)
	_, err = h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestActivityRetryExhaustion(t *testing.T) {
	e := New()
	ctx := context.Background()

	attempts := 0
	require.NoError(t, e.RegisterSendActivity(ctx, "send", engine.ActivityOptions{
		RetryPolicy: engine.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
	}, func(context.Context, *messaging.SendRequest) error {
		attempts++
		return errors.New("down")
	}))

	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "wf",
		Handler: func(wctx engine.WorkflowContext, _ *messaging.RunInput) (*messaging.RunOutput, error) {
			err := wctx.ExecuteSendActivity(wctx.Context(), engine.SendActivityCall{
				Name:  "send",
				Input: &messaging.SendRequest{},
			})
			return &messaging.RunOutput{}, err
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "acme:wf:1", Workflow: "wf"})
	require.NoError(t, err)
	_, err = h.Wait(ctx)
	require.ErrorContains(t, err, "down")
	assert.Equal(t, 2, attempts)
}

func TestRunTimeoutEndsWorkflow(t *testing.T) {
	e := New()
	ctx := context.Background()
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "wf",
		Handler: func(wctx engine.WorkflowContext, _ *messaging.RunInput) (*messaging.RunOutput, error) {
			_, err := wctx.InboundMessages().Receive(wctx.Context())
			return &messaging.RunOutput{}, err
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:         "acme:wf:1",
		Workflow:   "wf",
		RunTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCancelUnblocksReceive(t *testing.T) {
	e := New()
	ctx := context.Background()
	require.NoError(t, e.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "wf",
		Handler: func(wctx engine.WorkflowContext, _ *messaging.RunInput) (*messaging.RunOutput, error) {
			_, err := wctx.InboundMessages().Receive(wctx.Context())
			require.Error(t, err)
			return &messaging.RunOutput{}, nil
		},
	}))

	h, err := e.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "acme:wf:1", Workflow: "wf"})
	require.NoError(t, err)
	require.NoError(t, h.Cancel(ctx))

	_, err = h.Wait(ctx)
	require.NoError(t, err)
}
