package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexuslabs/nexus/internal/agent/providers"
	"github.com/nexuslabs/nexus/internal/eventbus"
	"github.com/nexuslabs/nexus/internal/models"
	"github.com/nexuslabs/nexus/internal/pause"
	"github.com/nexuslabs/nexus/internal/retryengine"
	"github.com/nexuslabs/nexus/internal/secondary"
	"github.com/nexuslabs/nexus/internal/usage"
	coremodels "github.com/nexuslabs/nexus/pkg/models"
)

// newSecondaryRuntime builds the shared Runtime every secondary-mode
// subcommand drives, mirroring the pause/bus/cost wiring newChatCommand
// gives the main Facade.
func newSecondaryRuntime() *secondary.Runtime {
	return &secondary.Runtime{
		Pause:  pause.Default(),
		Bus:    eventbus.Default(),
		Cost:   usage.NewCostTracker(models.DefaultCatalog),
		Policy: retryengine.DefaultPolicy(),
	}
}

func newVoiceCommand() *cobra.Command {
	var model, voice, out string

	cmd := &cobra.Command{
		Use:   "voice [text]",
		Short: "Synthesize speech for text through the OpenAI voice adapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"))
			rt := newSecondaryRuntime()
			snapshot := coremodels.AgentSnapshot{ID: "cli-voice", Name: "voice"}

			var audio []byte
			var format string
			rt.Bus.SetHandler(func(event coremodels.StreamEvent) {
				if event.Type != coremodels.StreamAudio || event.Audio == nil {
					return
				}
				format = event.Audio.Format
				if data, err := base64.StdEncoding.DecodeString(event.Audio.Data); err == nil {
					audio = append(audio, data...)
				}
			})
			defer rt.Bus.SetHandler(nil)

			if err := rt.StreamVoice(cmd.Context(), snapshot, model, provider.VoiceSynth(args[0], model, voice)); err != nil {
				return err
			}
			if out == "" {
				out = "speech." + format
			}
			return os.WriteFile(out, audio, 0o644)
		},
	}
	cmd.Flags().StringVar(&model, "model", "tts-1", "OpenAI speech model")
	cmd.Flags().StringVar(&voice, "voice", "alloy", "OpenAI voice name")
	cmd.Flags().StringVar(&out, "out", "", "output audio file path (default speech.<format>)")
	return cmd
}

func newTranscribeCommand() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "transcribe [audio-file]",
		Short: "Transcribe an audio file through the OpenAI transcription adapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			provider := providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"))
			rt := newSecondaryRuntime()
			snapshot := coremodels.AgentSnapshot{ID: "cli-transcribe", Name: "transcribe"}

			text, err := rt.StreamTranscription(cmd.Context(), snapshot, model, provider.Transcribe(data, args[0], model))
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "whisper-1", "OpenAI transcription model")
	return cmd
}

func newEmbedCommand() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "embed [text...]",
		Short: "Embed one or more text inputs through the OpenAI embedding adapter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"))
			rt := newSecondaryRuntime()
			snapshot := coremodels.AgentSnapshot{ID: "cli-embed", Name: "embed"}

			vectors, err := rt.RunEmbedding(cmd.Context(), snapshot, model, provider.Embed(args, model))
			if err != nil {
				return err
			}
			for i, v := range vectors {
				fmt.Printf("[%d] dim=%d first=%v\n", i, len(v), firstN(v, 4))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "text-embedding-3-small", "OpenAI embedding model")
	return cmd
}

func firstN(v []float64, n int) []float64 {
	if len(v) < n {
		n = len(v)
	}
	return v[:n]
}

func newImageCommand() *cobra.Command {
	var model, outDir string
	var n int

	cmd := &cobra.Command{
		Use:   "image [prompt]",
		Short: "Generate one or more images through the OpenAI image adapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"))
			rt := newSecondaryRuntime()
			snapshot := coremodels.AgentSnapshot{ID: "cli-image", Name: "image"}

			result, err := rt.RunImage(cmd.Context(), snapshot, model, provider.GenerateImage(args[0], model, n))
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = "."
			}
			for i, img := range result.Images {
				path := fmt.Sprintf("%s/image-%d.%s", outDir, i, result.Format)
				if err := os.WriteFile(path, img, 0o644); err != nil {
					return err
				}
				fmt.Println(path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "dall-e-3", "OpenAI image model")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory to write generated images into")
	cmd.Flags().IntVar(&n, "n", 1, "number of images to generate")
	return cmd
}
