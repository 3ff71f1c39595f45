package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopMessageHandler(context.Context, *MessageContext) error { return nil }
func noopWebhookHandler(context.Context, *WebhookContext) error { return nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("Router Flow", HandlerMetadata{
		AgentName:   "router",
		ChatHandler: noopMessageHandler,
	}))

	meta, ok := r.Lookup("Router Flow")
	require.True(t, ok)
	assert.Equal(t, "router", meta.AgentName)
	assert.NotNil(t, meta.ChatHandler)
	assert.Nil(t, meta.DataHandler)

	_, ok = r.Lookup("Other Flow")
	assert.False(t, ok)
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register("", HandlerMetadata{AgentName: "a", ChatHandler: noopMessageHandler})
	require.Error(t, err)

	err = r.Register("Flow", HandlerMetadata{ChatHandler: noopMessageHandler})
	require.ErrorContains(t, err, "agent name is required")

	err = r.Register("Flow", HandlerMetadata{AgentName: "a"})
	require.ErrorContains(t, err, "at least one handler")
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("Flow", HandlerMetadata{
		AgentName:   "first",
		ChatHandler: noopMessageHandler,
	}))
	before, _ := r.Lookup("Flow")

	require.NoError(t, r.Register("Flow", HandlerMetadata{
		AgentName:      "second",
		SystemScoped:   true,
		WebhookHandler: noopWebhookHandler,
	}))

	after, ok := r.Lookup("Flow")
	require.True(t, ok)
	assert.Equal(t, "second", after.AgentName)
	assert.True(t, after.SystemScoped)
	assert.Nil(t, after.ChatHandler)
	assert.NotNil(t, after.WebhookHandler)

	// The earlier snapshot is untouched by the re-registration.
	assert.Equal(t, "first", before.AgentName)
	assert.NotNil(t, before.ChatHandler)
}

func TestRegistryMiddlewareOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	mw := func(tag string) MessageMiddleware {
		return func(next MessageHandler) MessageHandler {
			return func(ctx context.Context, mc *MessageContext) error {
				order = append(order, tag)
				return next(ctx, mc)
			}
		}
	}
	r.Use(mw("outer"), mw("inner"))

	require.NoError(t, r.Register("Flow", HandlerMetadata{
		AgentName: "a",
		ChatHandler: func(ctx context.Context, mc *MessageContext) error {
			order = append(order, "handler")
			return nil
		},
	}))

	meta, _ := r.Lookup("Flow")
	require.NoError(t, meta.ChatHandler(context.Background(), nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRegistryMiddlewareNotRetroactive(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.Register("Flow", HandlerMetadata{
		AgentName:   "a",
		ChatHandler: noopMessageHandler,
	}))
	r.Use(func(next MessageHandler) MessageHandler {
		return func(ctx context.Context, mc *MessageContext) error {
			called = true
			return next(ctx, mc)
		}
	})

	meta, _ := r.Lookup("Flow")
	require.NoError(t, meta.ChatHandler(context.Background(), nil))
	assert.False(t, called)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Register("Flow", HandlerMetadata{AgentName: "a", ChatHandler: noopMessageHandler})
		}()
		go func() {
			defer wg.Done()
			if meta, ok := r.Lookup("Flow"); ok {
				_ = meta.AgentName
			}
		}()
	}
	wg.Wait()
}
