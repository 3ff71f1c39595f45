package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/engine"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

// fakeTransport records transport calls and serves scripted history pages.
// Safe for concurrent use so end-to-end tests can poll it.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []*messaging.SendRequest
	handoffs []*messaging.SendRequest
	queries  []*messaging.HistoryQuery

	history []*messaging.DbMessage
	sendErr error
	histErr error
}

func (f *fakeTransport) SendMessage(_ context.Context, req *messaging.SendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return f.sendErr
}

func (f *fakeTransport) SendHandoff(_ context.Context, req *messaging.SendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handoffs = append(f.handoffs, req)
	return f.sendErr
}

func (f *fakeTransport) GetHistory(_ context.Context, q *messaging.HistoryQuery) ([]*messaging.DbMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.history, nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeWorkflowContext is a coordination-domain stand-in: dispatch activity
// calls run the configured function synchronously, send activity calls are
// recorded.
type fakeWorkflowContext struct {
	workflowID string

	dispatchFn    func(*messaging.ExecutionRequest) (*messaging.ExecutionResult, error)
	dispatchCalls []engine.DispatchActivityCall
	sendCalls     []engine.SendActivityCall
	sendErr       error
}

func newFakeWorkflowContext(workflowID string) *fakeWorkflowContext {
	return &fakeWorkflowContext{workflowID: workflowID}
}

func (f *fakeWorkflowContext) Context() context.Context { return context.Background() }
func (f *fakeWorkflowContext) WorkflowID() string       { return f.workflowID }
func (f *fakeWorkflowContext) RunID() string            { return "run-1" }
func (f *fakeWorkflowContext) Now() time.Time           { return time.Unix(0, 0) }

func (f *fakeWorkflowContext) ExecuteDispatchActivity(_ context.Context, call engine.DispatchActivityCall) (*messaging.ExecutionResult, error) {
	f.dispatchCalls = append(f.dispatchCalls, call)
	if f.dispatchFn == nil {
		return &messaging.ExecutionResult{}, nil
	}
	return f.dispatchFn(call.Input)
}

func (f *fakeWorkflowContext) ExecuteSendActivity(_ context.Context, call engine.SendActivityCall) error {
	f.sendCalls = append(f.sendCalls, call)
	return f.sendErr
}

func (f *fakeWorkflowContext) InboundMessages() engine.Receiver[messaging.InboundMessage] {
	return nil
}

func (f *fakeWorkflowContext) Await(ctx context.Context, condition func() bool) error {
	for !condition() {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
