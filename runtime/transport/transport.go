// Package transport defines the backend collaborator interface used by the
// dispatch runtime: delivering outbound messages and fetching conversation
// history. The HTTP implementation lives in the httpclient subpackage.
package transport

import (
	"context"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

// Transport is the boundary to the platform backend. Implementations are
// invoked from the execution domain only: handler execution contexts call it
// directly, and the send activity wraps it for coordination-domain sends.
type Transport interface {
	// SendMessage delivers a reply or error notice to the originating channel.
	SendMessage(ctx context.Context, req *messaging.SendRequest) error

	// GetHistory fetches one page of prior messages scoped to participant and
	// tenant. Pages are 1-based; a page past the end returns an empty slice,
	// not an error.
	GetHistory(ctx context.Context, query *messaging.HistoryQuery) ([]*messaging.DbMessage, error)

	// SendHandoff transfers the conversation to another workflow type. The
	// request's WorkflowType names the target.
	SendHandoff(ctx context.Context, req *messaging.SendRequest) error
}
