package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
)

func testMessageContext(tr *fakeTransport) *MessageContext {
	return newMessageContext(&messaging.ExecutionRequest{
		WorkflowID:   "acme:Flow:1",
		WorkflowType: "Flow",
		TenantID:     "acme",
		Message: messaging.InboundMessage{
			Type:          messaging.MessageTypeChat,
			Text:          "hello",
			ParticipantID: "user-1",
			RequestID:     "req-1",
			Scope:         "support",
			Authorization: "Bearer tok",
			ThreadID:      "thr-9",
		},
	}, tr)
}

func TestMessageContextReply(t *testing.T) {
	tr := &fakeTransport{}
	mc := testMessageContext(tr)

	require.NoError(t, mc.Reply(context.Background(), "done"))

	require.Len(t, tr.sent, 1)
	sent := tr.sent[0]
	assert.Equal(t, "done", sent.Text)
	assert.Equal(t, "user-1", sent.ParticipantID)
	assert.Equal(t, "req-1", sent.RequestID)
	assert.Equal(t, "acme", sent.TenantID)
	assert.Equal(t, "Bearer tok", sent.Authorization)
	assert.Equal(t, "thr-9", sent.ThreadID)
	assert.Equal(t, messaging.MessageTypeChat, sent.Type)
}

func TestMessageContextReplyWithData(t *testing.T) {
	tr := &fakeTransport{}
	mc := testMessageContext(tr)

	payload := json.RawMessage(`{"ok":true}`)
	require.NoError(t, mc.ReplyWithData(context.Background(), "done", payload))

	require.Len(t, tr.sent, 1)
	assert.JSONEq(t, `{"ok":true}`, string(tr.sent[0].Data))
}

func TestMessageContextChatHistoryDefaults(t *testing.T) {
	tr := &fakeTransport{}
	mc := testMessageContext(tr)

	_, err := mc.ChatHistory(context.Background(), 0, -3)
	require.NoError(t, err)

	require.Len(t, tr.queries, 1)
	q := tr.queries[0]
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, defaultHistoryPageSize, q.PageSize)
	assert.Equal(t, "acme", q.TenantID)
	assert.Equal(t, "acme:Flow:1", q.WorkflowID)
	assert.Equal(t, "user-1", q.ParticipantID)
	assert.Equal(t, "support", q.Scope)
}

func TestMessageContextLastTaskID(t *testing.T) {
	tr := &fakeTransport{history: []*messaging.DbMessage{
		{ID: "m2", RequestID: "task-7", CreatedAt: time.Now()},
		{ID: "m1", RequestID: "task-6", CreatedAt: time.Now().Add(-time.Minute)},
	}}
	mc := testMessageContext(tr)

	taskID, err := mc.LastTaskID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "task-7", taskID)

	require.Len(t, tr.queries, 1)
	assert.Equal(t, 1, tr.queries[0].Page)
	assert.Equal(t, 1, tr.queries[0].PageSize)
}

func TestMessageContextLastTaskIDEmptyHistory(t *testing.T) {
	tr := &fakeTransport{}
	mc := testMessageContext(tr)

	taskID, err := mc.LastTaskID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", taskID)
}

func TestMessageContextHandoff(t *testing.T) {
	tr := &fakeTransport{}
	mc := testMessageContext(tr)

	require.NoError(t, mc.Handoff(context.Background(), "Billing Flow"))

	require.Len(t, tr.handoffs, 1)
	h := tr.handoffs[0]
	assert.Equal(t, "Billing Flow", h.WorkflowType)
	assert.Equal(t, messaging.MessageTypeHandoff, h.Type)
	assert.Equal(t, "hello", h.Text)
	assert.Equal(t, "user-1", h.ParticipantID)

	require.Error(t, mc.Handoff(context.Background(), ""))
}

func TestWebhookContextDefaults(t *testing.T) {
	wc := newWebhookContext(&messaging.ExecutionRequest{
		WorkflowID: "acme:Flow:1",
		TenantID:   "acme",
		Message:    messaging.InboundMessage{Type: messaging.MessageTypeWebhook},
	}, &fakeTransport{})

	assert.Equal(t, 200, wc.Response.StatusCode)
	assert.Equal(t, "application/json", wc.Response.ContentType)
	assert.Equal(t, "acme", wc.TenantID())
}

func TestWebhookContextHistory(t *testing.T) {
	tr := &fakeTransport{history: []*messaging.DbMessage{
		{ID: "m1", RequestID: "task-3", CreatedAt: time.Now()},
	}}
	wc := newWebhookContext(&messaging.ExecutionRequest{
		WorkflowID:   "acme:Flow:1",
		WorkflowType: "Flow",
		TenantID:     "acme",
		Message: messaging.InboundMessage{
			Type:          messaging.MessageTypeWebhook,
			ParticipantID: "user-1",
		},
	}, tr)

	page, err := wc.ChatHistory(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m1", page[0].ID)

	taskID, err := wc.LastTaskID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "task-3", taskID)

	require.Len(t, tr.queries, 2)
	assert.Equal(t, "acme", tr.queries[0].TenantID)
	assert.Equal(t, "user-1", tr.queries[0].ParticipantID)
}
