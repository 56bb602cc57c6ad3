// Package main provides the CLI entry point for the Nexus orchestration
// runtime.
//
// Nexus drives a provider-agnostic conversation loop — pause/resume,
// retry, tool execution, cost tracking — against whichever LLM provider
// an agent definition resolves to.
//
// # Basic Usage
//
// Start an interactive chat against the default agent:
//
//	nexus chat --model claude-sonnet-4-20250514
//
// Check which models are currently reachable given configured API keys:
//
//	nexus doctor
//
// # Environment Variables
//
//   - NEXUS_CONFIG: path to the YAML config file (default: nexus.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:     "nexus",
		Short:   "Provider-agnostic LLM orchestration runtime",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "nexus.yaml", "path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newChatCommand())
	root.AddCommand(newDoctorCommand())
	root.AddCommand(newVoiceCommand())
	root.AddCommand(newTranscribeCommand())
	root.AddCommand(newEmbedCommand())
	root.AddCommand(newImageCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSlogLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
