// Package engine defines the durable-execution boundary consumed by the
// dispatch runtime. It abstracts workflow registration, workflow start and
// activity scheduling so the runtime can target Temporal in production and an
// in-memory adapter in tests without modification.
//
// Two execution domains are distinguished:
//
//   - The deterministic coordination domain runs workflow handlers. Code in
//     this domain must not perform I/O directly; every side effect is
//     expressed as an activity submission through WorkflowContext. The same
//     inputs and history must produce the same outputs on replay.
//
//   - The non-deterministic execution domain runs activity handlers (the
//     dispatch and send activities). Activities may call out to HTTP and
//     storage directly and may be retried wholesale on transient failure, so
//     they must tolerate re-invocation.
//
// The only payloads crossing the boundary are the plain-data types defined in
// the messaging package.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

// ErrWorkflowNotFound indicates that no workflow execution exists for the
// given identifier.
var ErrWorkflowNotFound = errors.New("workflow not found")

type (
	// Engine abstracts workflow registration and execution so adapters
	// (Temporal, in-memory, or custom) can be swapped without touching the
	// dispatch pipeline.
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterDispatchActivity registers the typed activity that executes a
		// resolved handler in the execution domain. The activity accepts an
		// ExecutionRequest and returns an ExecutionResult.
		RegisterDispatchActivity(ctx context.Context, name string, opts ActivityOptions, fn func(context.Context, *messaging.ExecutionRequest) (*messaging.ExecutionResult, error)) error

		// RegisterSendActivity registers the typed activity that delivers an
		// outbound message through the transport collaborator. The coordination
		// domain never sends directly; it schedules this activity instead.
		RegisterSendActivity(ctx context.Context, name string, opts ActivityOptions, fn func(context.Context, *messaging.SendRequest) error) error

		// StartWorkflow initiates a new workflow execution and returns a handle
		// for interacting with it. The workflow ID in req must be unique for
		// the engine instance.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// Signaler provides direct signaling by workflow ID/run ID without relying
	// on in-process workflow handles. Engines that support out-of-process
	// signaling (Temporal) implement this so transports can deliver inbound
	// messages across process restarts.
	Signaler interface {
		// SignalByID sends a signal to the workflow identified by workflowID
		// and optional runID. The payload must be serializable by the engine.
		SignalByID(ctx context.Context, workflowID, runID, name string, payload any) error
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue.
	WorkflowDefinition struct {
		// Name is the logical identifier registered with the engine.
		Name string
		// TaskQueue is the default queue used when starting new workflows.
		TaskQueue string
		// Handler is the workflow function invoked when the workflow executes.
		Handler WorkflowFunc
	}

	// WorkflowFunc is the dispatcher workflow entry point. Implementations
	// must be deterministic with respect to activity results.
	WorkflowFunc func(ctx WorkflowContext, input *messaging.RunInput) (*messaging.RunOutput, error)

	// WorkflowContext exposes engine operations to workflow handlers within
	// the deterministic execution environment of a workflow.
	//
	// Thread-safety: a WorkflowContext is bound to a single workflow execution
	// and must not be shared across goroutines. Activity and signal operations
	// are serialized by the workflow engine, which gives each workflow
	// instance its logically sequential message-processing order.
	WorkflowContext interface {
		// Context returns the Go context for the workflow, used for activity
		// execution and cancellation propagation.
		Context() context.Context

		// WorkflowID returns the unique identifier for this workflow execution.
		WorkflowID() string

		// RunID returns the engine-assigned run identifier.
		RunID() string

		// ExecuteDispatchActivity schedules the dispatch activity and blocks
		// the coordination domain cooperatively until the submitted unit of
		// work completes or exhausts its retry policy.
		ExecuteDispatchActivity(ctx context.Context, call DispatchActivityCall) (*messaging.ExecutionResult, error)

		// ExecuteSendActivity schedules the send activity and waits for
		// completion. This is how the coordination domain emits error notices
		// and webhook responses without performing I/O itself.
		ExecuteSendActivity(ctx context.Context, call SendActivityCall) error

		// InboundMessages returns the typed receiver delivering inbound
		// messages signaled to this workflow instance, in arrival order.
		InboundMessages() Receiver[messaging.InboundMessage]

		// Now returns the current workflow time in a deterministic, replay-safe
		// manner.
		Now() time.Time

		// Await blocks until condition returns true or ctx is done. The
		// condition must be deterministic and side-effect free.
		Await(ctx context.Context, condition func() bool) error
	}

	// Receiver exposes typed workflow signal delivery in an engine-agnostic
	// way. Implementations wrap engine-specific channels and deliver values in
	// the order they were signaled.
	Receiver[T any] interface {
		// Receive blocks until a signal value is delivered and returns it.
		Receive(ctx context.Context) (T, error)

		// ReceiveAsync attempts to receive a signal without blocking.
		ReceiveAsync() (T, bool)
	}

	// ActivityOptions configures retry and timeouts for an activity.
	ActivityOptions struct {
		// Queue overrides the default activity queue. If empty, the activity
		// inherits the workflow's task queue.
		Queue string
		// RetryPolicy controls retry behavior for this activity. If
		// zero-valued, the engine uses its default retry policy.
		RetryPolicy RetryPolicy
		// Timeout bounds a single activity attempt start-to-completion,
		// independent of the retry policy's backoff ceiling. Exceeding it is
		// consumed by the retry policy like any other transient failure.
		Timeout time.Duration
	}

	// DispatchActivityCall describes a single invocation of the dispatch
	// activity from inside workflow code.
	DispatchActivityCall struct {
		// Name identifies the registered dispatch activity.
		Name string

		// Input is the serializable request handed to the activity handler.
		Input *messaging.ExecutionRequest

		// Options overrides the registered activity defaults for this call.
		Options ActivityOptions
	}

	// SendActivityCall describes a single invocation of the send activity from
	// inside workflow code.
	SendActivityCall struct {
		// Name identifies the registered send activity.
		Name string

		// Input is the outbound message handed to the activity handler.
		Input *messaging.SendRequest

		// Options overrides the registered activity defaults for this call.
		Options ActivityOptions
	}

	// WorkflowStartRequest describes how to launch a dispatcher workflow
	// execution.
	WorkflowStartRequest struct {
		// ID is the workflow identifier, unique within the engine scope. The
		// dispatch runtime requires the "tenant:rest" form so the tenant can be
		// derived from the identifier.
		ID string
		// Workflow names the registered workflow definition to execute.
		Workflow string
		// TaskQueue selects the queue to schedule the workflow on.
		TaskQueue string
		// Input is the typed payload passed to the workflow handler.
		Input *messaging.RunInput
		// RunTimeout bounds the total workflow execution time at the engine
		// level. Zero means use the engine default.
		RunTimeout time.Duration
		// RetryPolicy controls automatic restarts of the workflow start
		// attempt if scheduling fails. Not to be confused with activity retries.
		RetryPolicy RetryPolicy
	}

	// WorkflowHandle allows callers to interact with a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes and returns the typed result.
		Wait(ctx context.Context) (*messaging.RunOutput, error)

		// Signal sends an asynchronous message to the workflow.
		Signal(ctx context.Context, name string, payload any) error

		// Cancel requests cancellation of the workflow.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and activities.
	// Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		// MaxAttempts caps the total number of attempts. Zero means unlimited.
		MaxAttempts int
		// InitialInterval is the delay before the first retry.
		InitialInterval time.Duration
		// MaxInterval caps the delay between retries.
		MaxInterval time.Duration
		// BackoffCoefficient multiplies the delay after each retry. Values < 1
		// are treated as 1 (constant backoff).
		BackoffCoefficient float64
	}
)
