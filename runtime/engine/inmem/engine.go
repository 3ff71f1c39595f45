// Package inmem provides an in-memory implementation of the workflow engine
// for testing and development. It honors activity retry policies with real
// (wall-clock) backoff but is not deterministic or replay-safe and must not
// be used for production workloads.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/engine"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

type (
	eng struct {
		mu sync.RWMutex

		workflows          map[string]engine.WorkflowDefinition
		dispatchActivities map[string]dispatchActivityDef
		sendActivities     map[string]sendActivityDef

		handles map[string]*handle
	}

	dispatchActivityDef struct {
		handler func(context.Context, *messaging.ExecutionRequest) (*messaging.ExecutionResult, error)
		opts    engine.ActivityOptions
	}

	sendActivityDef struct {
		handler func(context.Context, *messaging.SendRequest) error
		opts    engine.ActivityOptions
	}

	handle struct {
		mu     sync.Mutex
		done   chan struct{}
		err    error
		result *messaging.RunOutput
		wfCtx  *wfCtx
		cancel context.CancelFunc
	}

	wfCtx struct {
		ctx   context.Context
		id    string
		runID string
		eng   *eng

		inboundCh chan messaging.InboundMessage
	}

	receiver[T any] struct {
		ch chan T
	}
)

// New returns a new in-memory Engine implementation suitable for local
// development, tests and simple single-process runs.
func New() engine.Engine {
	return &eng{
		workflows:          make(map[string]engine.WorkflowDefinition),
		dispatchActivities: make(map[string]dispatchActivityDef),
		sendActivities:     make(map[string]sendActivityDef),
		handles:            make(map[string]*handle),
	}
}

func (e *eng) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) RegisterDispatchActivity(_ context.Context, name string, opts engine.ActivityOptions, fn func(context.Context, *messaging.ExecutionRequest) (*messaging.ExecutionResult, error)) error {
	if name == "" {
		return errors.New("dispatch activity name is required")
	}
	if fn == nil {
		return errors.New("dispatch activity handler is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.dispatchActivities[name]; dup {
		return fmt.Errorf("dispatch activity %q already registered", name)
	}
	e.dispatchActivities[name] = dispatchActivityDef{handler: fn, opts: opts}
	return nil
}

func (e *eng) RegisterSendActivity(_ context.Context, name string, opts engine.ActivityOptions, fn func(context.Context, *messaging.SendRequest) error) error {
	if name == "" {
		return errors.New("send activity name is required")
	}
	if fn == nil {
		return errors.New("send activity handler is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.sendActivities[name]; dup {
		return fmt.Errorf("send activity %q already registered", name)
	}
	e.sendActivities[name] = sendActivityDef{handler: fn, opts: opts}
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("workflow id is required")
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if req.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	wctx := &wfCtx{
		ctx:   runCtx,
		id:    req.ID,
		runID: req.ID, // in-memory assigns the workflow ID as the run ID
		eng:   e,

		// Buffered so transports can signal bursts without blocking; delivery
		// order is preserved by the channel.
		inboundCh: make(chan messaging.InboundMessage, 64),
	}

	h := &handle{done: make(chan struct{}), wfCtx: wctx, cancel: cancel}

	e.mu.Lock()
	if _, dup := e.handles[req.ID]; dup {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("workflow id %q already running", req.ID)
	}
	e.handles[req.ID] = h
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		res, err := def.Handler(wctx, req.Input)
		h.mu.Lock()
		h.result = res
		h.err = err
		h.mu.Unlock()
	}()

	return h, nil
}

// SignalByID delivers a signal to a running workflow by its identifier.
// Implements engine.Signaler.
func (e *eng) SignalByID(ctx context.Context, workflowID, _, name string, payload any) error {
	if workflowID == "" {
		return errors.New("workflow id is required")
	}
	e.mu.RLock()
	h, ok := e.handles[workflowID]
	e.mu.RUnlock()
	if !ok {
		return engine.ErrWorkflowNotFound
	}
	return h.Signal(ctx, name, payload)
}

func (h *handle) Wait(ctx context.Context) (*messaging.RunOutput, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	if name != messaging.SignalInboundMessage {
		return fmt.Errorf("unknown signal %q", name)
	}
	msg, ok := payload.(messaging.InboundMessage)
	if !ok {
		if p, isPtr := payload.(*messaging.InboundMessage); isPtr && p != nil {
			msg = *p
		} else {
			return fmt.Errorf("signal %q expects messaging.InboundMessage, got %T", name, payload)
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errors.New("workflow completed")
	case h.wfCtx.inboundCh <- msg:
		return nil
	}
}

func (h *handle) Cancel(context.Context) error {
	h.cancel()
	return nil
}

func (w *wfCtx) Context() context.Context {
	return w.ctx
}

func (w *wfCtx) WorkflowID() string {
	return w.id
}

func (w *wfCtx) RunID() string {
	return w.runID
}

func (w *wfCtx) Now() time.Time {
	return time.Now()
}

func (w *wfCtx) Await(ctx context.Context, condition func() bool) error {
	if condition == nil {
		return errors.New("await condition is required")
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *wfCtx) ExecuteDispatchActivity(ctx context.Context, call engine.DispatchActivityCall) (*messaging.ExecutionResult, error) {
	if call.Name == "" {
		return nil, errors.New("dispatch activity name is required")
	}
	if call.Input == nil {
		return nil, errors.New("dispatch activity input is required")
	}
	w.eng.mu.RLock()
	def, ok := w.eng.dispatchActivities[call.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dispatch activity %q not registered", call.Name)
	}

	opts := mergeOptions(def.opts, call.Options)
	var out *messaging.ExecutionResult
	err := retryAttempts(ctx, opts, func(actx context.Context) error {
		var attemptErr error
		out, attemptErr = def.handler(actx, call.Input)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *wfCtx) ExecuteSendActivity(ctx context.Context, call engine.SendActivityCall) error {
	if call.Name == "" {
		return errors.New("send activity name is required")
	}
	if call.Input == nil {
		return errors.New("send activity input is required")
	}
	w.eng.mu.RLock()
	def, ok := w.eng.sendActivities[call.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send activity %q not registered", call.Name)
	}

	opts := mergeOptions(def.opts, call.Options)
	return retryAttempts(ctx, opts, func(actx context.Context) error {
		return def.handler(actx, call.Input)
	})
}

func (w *wfCtx) InboundMessages() engine.Receiver[messaging.InboundMessage] {
	return receiver[messaging.InboundMessage]{ch: w.inboundCh}
}

func (r receiver[T]) Receive(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case val := <-r.ch:
		return val, nil
	}
}

func (r receiver[T]) ReceiveAsync() (T, bool) {
	select {
	case val := <-r.ch:
		return val, true
	default:
		var zero T
		return zero, false
	}
}

// retryAttempts runs fn under the activity retry policy: each attempt is
// bounded by the start-to-close timeout and failures back off exponentially
// up to the policy cap. MaxAttempts <= 0 means a single attempt.
func retryAttempts(ctx context.Context, opts engine.ActivityOptions, fn func(context.Context) error) error {
	attempts := opts.RetryPolicy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		actx, cancel := attemptContext(ctx, opts.Timeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		if attempt >= attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffFor(opts.RetryPolicy, attempt)):
		}
	}
	return lastErr
}

func attemptContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}

func backoffFor(policy engine.RetryPolicy, attempt int) time.Duration {
	initial := policy.InitialInterval
	if initial <= 0 {
		initial = 10 * time.Millisecond
	}
	coeff := policy.BackoffCoefficient
	if coeff < 1 {
		coeff = 1
	}
	backoff := float64(initial) * math.Pow(coeff, float64(attempt-1))
	if policy.MaxInterval > 0 && backoff > float64(policy.MaxInterval) {
		backoff = float64(policy.MaxInterval)
	}
	return time.Duration(backoff)
}

func mergeOptions(base, override engine.ActivityOptions) engine.ActivityOptions {
	merged := base
	if override.Queue != "" {
		merged.Queue = override.Queue
	}
	if override.Timeout != 0 {
		merged.Timeout = override.Timeout
	}
	if override.RetryPolicy.MaxAttempts != 0 {
		merged.RetryPolicy.MaxAttempts = override.RetryPolicy.MaxAttempts
	}
	if override.RetryPolicy.InitialInterval != 0 {
		merged.RetryPolicy.InitialInterval = override.RetryPolicy.InitialInterval
	}
	if override.RetryPolicy.MaxInterval != 0 {
		merged.RetryPolicy.MaxInterval = override.RetryPolicy.MaxInterval
	}
	if override.RetryPolicy.BackoffCoefficient != 0 {
		merged.RetryPolicy.BackoffCoefficient = override.RetryPolicy.BackoffCoefficient
	}
	return merged
}
