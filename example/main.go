// Command example runs a minimal dispatch worker: it registers a chat, data
// and webhook handler for one workflow type, connects the Temporal engine and
// starts a dispatcher instance ready to receive inbound message signals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/config"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/dispatch"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/engine"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/engine/temporal"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/messaging"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/telemetry"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/transport/cache"
	"github.com/XiansAiPlatform/XiansAi.Lib-sub007/runtime/transport/httpclient"
)

const workflowType = "Support Flow"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))
	logger := telemetry.NewClueLogger()

	settings, err := config.Load()
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	opts := append(settings.TransportOptions(),
		httpclient.WithLogger(logger),
		httpclient.WithHistoryCache(cache.NewMemoryCache(), settings.HistoryCacheTTL),
	)
	tr, err := httpclient.New(settings.ServerURL, opts...)
	if err != nil {
		return err
	}

	registry := dispatch.NewRegistry()
	if err := registry.Register(workflowType, dispatch.HandlerMetadata{
		AgentName: "support-agent",
		ChatHandler: func(ctx context.Context, mc *dispatch.MessageContext) error {
			history, err := mc.ChatHistory(ctx, 1, 10)
			if err != nil {
				return err
			}
			return mc.Reply(ctx, fmt.Sprintf("echo: %s (%d prior messages)", mc.Message().Text, len(history)))
		},
		DataHandler: func(ctx context.Context, mc *dispatch.MessageContext) error {
			return mc.ReplyWithData(ctx, "received", mc.Message().Data)
		},
		WebhookHandler: func(ctx context.Context, wc *dispatch.WebhookContext) error {
			return wc.SetJSON(200, map[string]string{"status": "ok"})
		},
	}); err != nil {
		return err
	}

	processor, err := dispatch.NewProcessor(registry, tr,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(telemetry.NewOtelMetrics()),
		dispatch.WithTracer(telemetry.NewOtelTracer()),
		dispatch.WithTaskQueue(settings.TaskQueue),
	)
	if err != nil {
		return err
	}

	eng, err := temporal.New(temporal.Options{
		ClientOptions: &client.Options{
			HostPort:  settings.TemporalHostPort,
			Namespace: settings.TemporalNamespace,
		},
		TaskQueue: settings.TaskQueue,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if err := processor.Register(ctx, eng); err != nil {
		return err
	}

	workflowID := settings.WorkflowID(workflowType + ":demo")
	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       workflowID,
		Workflow: dispatch.DefaultWorkflowName,
		Input:    &messaging.RunInput{WorkflowType: workflowType},
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "dispatcher started", "workflow_id", workflowID)

	// Feed one chat message through the pipeline so a fresh setup can be
	// verified end to end.
	if err := handle.Signal(ctx, messaging.SignalInboundMessage, messaging.InboundMessage{
		Type:          messaging.MessageTypeChat,
		Text:          "hello",
		ParticipantID: "demo-user",
		TenantID:      settings.TenantID,
	}); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	return handle.Cancel(ctx)
}
