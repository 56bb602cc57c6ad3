package providers

import (
	"context"
	"errors"
	"testing"
)

func TestOpenAISecondaryAdaptersRequireConfiguredClient(t *testing.T) {
	p := NewOpenAIProvider("")

	t.Run("voice", func(t *testing.T) {
		_, err := p.VoiceSynth("hello", "", "")(context.Background())
		if !errors.Is(err, ErrOpenAINotConfigured) {
			t.Fatalf("expected ErrOpenAINotConfigured, got %v", err)
		}
	})

	t.Run("transcribe", func(t *testing.T) {
		_, err := p.Transcribe([]byte("audio"), "", "")(context.Background(), nil)
		if !errors.Is(err, ErrOpenAINotConfigured) {
			t.Fatalf("expected ErrOpenAINotConfigured, got %v", err)
		}
	})

	t.Run("embed", func(t *testing.T) {
		_, err := p.Embed([]string{"hi"}, "")(context.Background())
		if !errors.Is(err, ErrOpenAINotConfigured) {
			t.Fatalf("expected ErrOpenAINotConfigured, got %v", err)
		}
	})

	t.Run("image", func(t *testing.T) {
		_, err := p.GenerateImage("a cat", "", 0)(context.Background())
		if !errors.Is(err, ErrOpenAINotConfigured) {
			t.Fatalf("expected ErrOpenAINotConfigured, got %v", err)
		}
	})
}

func TestOpenAIEmbedEmptyInputsShortCircuits(t *testing.T) {
	p := NewOpenAIProvider("sk-configured")
	result, err := p.Embed(nil, "")(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Vectors) != 0 {
		t.Fatalf("expected no vectors for empty input, got %d", len(result.Vectors))
	}
}

func TestDownloadImageRejectsEmptyURL(t *testing.T) {
	if _, err := downloadImage(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty image url")
	}
}
