package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuslabs/nexus/internal/secondary"
	"github.com/nexuslabs/nexus/internal/usage"
)

// ErrOpenAINotConfigured is returned by the secondary-mode adapters below
// when the provider was constructed without an API key.
var ErrOpenAINotConfigured = errors.New("openai: provider not configured with an API key")

// VoiceSynth returns a secondary.VoiceSynthFunc that synthesizes text to
// speech via OpenAI's audio/speech endpoint. An empty model or voice falls
// back to "tts-1" / "alloy".
func (p *OpenAIProvider) VoiceSynth(text, model, voice string) secondary.VoiceSynthFunc {
	return func(ctx context.Context) (secondary.VoiceResult, error) {
		if p.client == nil {
			return secondary.VoiceResult{}, ErrOpenAINotConfigured
		}
		if model == "" {
			model = "tts-1"
		}
		if voice == "" {
			voice = string(openai.VoiceAlloy)
		}

		resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(model),
			Input:          text,
			Voice:          openai.SpeechVoice(voice),
			ResponseFormat: openai.SpeechResponseFormatMp3,
		})
		if err != nil {
			return secondary.VoiceResult{}, fmt.Errorf("openai speech synthesis: %w", err)
		}
		defer resp.Close()

		audio, err := io.ReadAll(resp)
		if err != nil {
			return secondary.VoiceResult{}, fmt.Errorf("reading synthesized audio: %w", err)
		}

		return secondary.VoiceResult{
			Audio:  audio,
			Format: "mp3",
			Usage:  usage.Usage{InputTokens: int64(len([]rune(text)))},
		}, nil
	}
}

// Transcribe returns a secondary.TranscribeFunc that transcribes audio via
// OpenAI's audio/transcriptions endpoint. The go-openai SDK's transcription
// call is not itself streaming, so onDelta is invoked once with the whole
// transcript before the final result is returned. An empty model falls back
// to "whisper-1".
func (p *OpenAIProvider) Transcribe(audio []byte, filename, model string) secondary.TranscribeFunc {
	return func(ctx context.Context, onDelta func(string)) (secondary.TranscriptionResult, error) {
		if p.client == nil {
			return secondary.TranscriptionResult{}, ErrOpenAINotConfigured
		}
		if model == "" {
			model = "whisper-1"
		}
		if filename == "" {
			filename = "audio.mp3"
		}

		resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    model,
			FilePath: filename,
			Reader:   bytes.NewReader(audio),
		})
		if err != nil {
			return secondary.TranscriptionResult{}, fmt.Errorf("openai transcription: %w", err)
		}

		if onDelta != nil {
			onDelta(resp.Text)
		}
		return secondary.TranscriptionResult{
			Text:  resp.Text,
			Usage: usage.Usage{InputTokens: int64(len(audio) / 1000)},
		}, nil
	}
}

// Embed returns a secondary.EmbeddingFunc that embeds inputs via OpenAI's
// embeddings endpoint. An empty model falls back to "text-embedding-3-small".
func (p *OpenAIProvider) Embed(inputs []string, model string) secondary.EmbeddingFunc {
	return func(ctx context.Context) (secondary.EmbeddingResult, error) {
		if p.client == nil {
			return secondary.EmbeddingResult{}, ErrOpenAINotConfigured
		}
		if model == "" {
			model = "text-embedding-3-small"
		}
		if len(inputs) == 0 {
			return secondary.EmbeddingResult{}, nil
		}

		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: inputs,
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return secondary.EmbeddingResult{}, fmt.Errorf("openai embeddings: %w", err)
		}

		vectors := make([][]float64, len(resp.Data))
		for _, d := range resp.Data {
			vec := make([]float64, len(d.Embedding))
			for i, v := range d.Embedding {
				vec[i] = float64(v)
			}
			if d.Index >= 0 && d.Index < len(vectors) {
				vectors[d.Index] = vec
			}
		}

		return secondary.EmbeddingResult{
			Vectors: vectors,
			Usage:   usage.Usage{InputTokens: int64(resp.Usage.TotalTokens)},
		}, nil
	}
}

// GenerateImage returns a secondary.ImageFunc that generates one or more
// images via OpenAI's images/generations endpoint, downloading each
// returned URL into raw bytes. An empty model falls back to "dall-e-3".
func (p *OpenAIProvider) GenerateImage(prompt, model string, n int) secondary.ImageFunc {
	return func(ctx context.Context) (secondary.ImageResult, error) {
		if p.client == nil {
			return secondary.ImageResult{}, ErrOpenAINotConfigured
		}
		if model == "" {
			model = openai.CreateImageModelDallE3
		}
		if n <= 0 {
			n = 1
		}

		resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          model,
			N:              n,
			Size:           openai.CreateImageSize1024x1024,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
		if err != nil {
			return secondary.ImageResult{}, fmt.Errorf("openai image generation: %w", err)
		}

		images := make([][]byte, 0, len(resp.Data))
		for _, d := range resp.Data {
			data, err := downloadImage(ctx, d.URL)
			if err != nil {
				return secondary.ImageResult{}, fmt.Errorf("downloading generated image: %w", err)
			}
			images = append(images, data)
		}

		return secondary.ImageResult{
			Images: images,
			Format: "png",
		}, nil
	}
}

func downloadImage(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("empty image url in openai response")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching generated image", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
