package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexuslabs/nexus/internal/agent"
	"github.com/nexuslabs/nexus/internal/facade"
	"github.com/nexuslabs/nexus/internal/models"
	"github.com/nexuslabs/nexus/internal/observability"
	"github.com/nexuslabs/nexus/internal/usage"
	coremodels "github.com/nexuslabs/nexus/pkg/models"
)

func newChatCommand() *cobra.Command {
	var modelOverride string
	var sequentialTools bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against a configured agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if modelOverride != "" {
				cfg.Agent.Model = modelOverride
			}

			slog.SetDefault(newSlogLogger())
			registry := agent.NewToolRegistry()
			executor := agent.NewToolExecutor(registry, agent.DefaultToolExecConfig())
			cost := usage.NewCostTracker(models.DefaultCatalog)

			f := facade.New(newProviderResolver(registry, cost), registry, executor)
			f.Cost = cost
			f.Loop.MaxToolCalls = cfg.Agent.MaxToolCalls
			f.Loop.MaxToolCallRounds = cfg.Agent.MaxToolRounds

			metrics := observability.NewMetrics()
			tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
				ServiceName: "nexus",
				Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			})
			defer shutdownTracer(context.Background())

			f.Metrics = metrics
			f.Tracer = tracer
			executor.Metrics = metrics
			cost.OnAddUsage(func(entry coremodels.UsageEntry) {
				provider := ""
				if m, ok := models.DefaultCatalog.Get(entry.Model); ok {
					provider = string(m.Provider)
				}
				metrics.RecordLLMCost(provider, entry.Model, entry.Cost)
			})

			agentDef := facade.AgentDefinition{
				ID:         cfg.Agent.Name,
				Name:       cfg.Agent.Name,
				Model:      cfg.Agent.Model,
				ModelClass: cfg.Agent.ModelClass,
				ModelSettings: coremodels.ModelSettings{
					SequentialTools: sequentialTools,
				},
			}
			if cfg.Agent.Temperature > 0 {
				agentDef.ModelSettings.Temperature = &cfg.Agent.Temperature
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runChatLoop(ctx, f, agentDef, cfg)
		},
	}
	cmd.Flags().StringVar(&modelOverride, "model", "", "override the configured model ID")
	cmd.Flags().BoolVar(&sequentialTools, "sequential-tools", false, "execute tool calls one at a time instead of concurrently")
	return cmd
}

func runChatLoop(ctx context.Context, f *facade.Facade, agentDef facade.AgentDefinition, cfg *Config) error {
	var history []coremodels.ConversationMessage
	if cfg.Agent.Instructions != "" {
		history = append(history, coremodels.NewSystemMessage(cfg.Agent.Instructions))
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("nexus chat — model %s. Type /exit to quit.\n", agentDef.Model)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if line == "/exit" || line == "/quit" {
			return nil
		}
		if line == "" {
			continue
		}

		history = append(history, coremodels.NewUserMessage(line))

		var assistantText string
		for event := range f.Request(ctx, history, agentDef) {
			switch event.Type {
			case coremodels.StreamMessageDelta:
				fmt.Print(event.Text)
			case coremodels.StreamMessageComplete:
				assistantText = event.Text
			case coremodels.StreamToolStart:
				for _, tc := range event.ToolCalls {
					fmt.Printf("\n[tool] %s(%s)\n", tc.Function.Name, tc.Function.Arguments)
				}
			case coremodels.StreamToolDone:
				for _, tr := range event.ToolResults {
					fmt.Printf("[tool result] %s\n", tr.Content)
				}
			case coremodels.StreamCostUpdate:
				if event.Usage != nil {
					fmt.Printf("\n[cost] %s: $%.4f\n", event.Usage.Model, event.Usage.Cost)
				}
			case coremodels.StreamError:
				fmt.Printf("\n[error] %s\n", event.Error)
			}
		}
		fmt.Println()
		if assistantText != "" {
			history = append(history, coremodels.NewAssistantMessage(assistantText))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
