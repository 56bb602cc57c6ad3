// Package secondary implements the voice, transcription, embedding, and
// image request modes as thin wrappers around the same pause controller,
// retry engine, cost tracker, and event bus the main text/tool loop uses,
// rather than as separate subsystems with their own suspension and
// accounting logic.
package secondary

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/nexuslabs/nexus/internal/eventbus"
	"github.com/nexuslabs/nexus/internal/pause"
	"github.com/nexuslabs/nexus/internal/retryengine"
	"github.com/nexuslabs/nexus/internal/usage"
	"github.com/nexuslabs/nexus/pkg/models"
)

// MaxAudioChunkBytes caps a single audio_stream event's base64 payload
// before encoding, so no single chunk exceeds 8KiB of raw audio.
const MaxAudioChunkBytes = 8 * 1024

// Runtime bundles the shared coordination primitives every secondary mode
// wrapper suspends on, retries through, and reports usage to.
type Runtime struct {
	Pause  *pause.Controller
	Bus    *eventbus.Bus
	Cost   *usage.CostTracker
	Policy retryengine.Policy
}

func (r *Runtime) preCall(ctx context.Context) error {
	if r.Pause == nil {
		return nil
	}
	if err := r.Pause.WaitWhilePaused(ctx, 0); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Runtime) emit(event models.StreamEvent, agent models.AgentSnapshot, modelOverride string) {
	if r.Bus == nil {
		return
	}
	r.Bus.Emit(event, &agent, modelOverride)
}

func (r *Runtime) recordUsage(modelID string, raw usage.Usage) *models.UsageEntry {
	if r.Cost == nil {
		return nil
	}
	entry := r.Cost.AddUsage(modelID, raw, nil)
	return &entry
}

// VoiceResult is what a voice synthesis attempt produces: the full audio
// payload plus the usage it consumed.
type VoiceResult struct {
	Audio  []byte
	Format string
	Usage  usage.Usage
}

// VoiceSynthFunc performs one attempt at synthesizing audio for text.
type VoiceSynthFunc func(ctx context.Context) (VoiceResult, error)

// StreamVoice waits out any active pause, retries VoiceSynthFunc per the
// runtime's retry policy, then emits the synthesized audio as a sequence
// of base64-encoded audio_stream events no larger than MaxAudioChunkBytes
// of raw audio each, with a monotonically increasing ChunkIndex and Final
// set on the last chunk, followed by a cost_update event.
func (r *Runtime) StreamVoice(ctx context.Context, agent models.AgentSnapshot, modelID string, synth VoiceSynthFunc) error {
	result, err := retryengine.Retry(ctx, r.Policy, r.preCall, func(ctx context.Context, attempt int) (VoiceResult, error) {
		return synth(ctx)
	})
	if err != nil {
		r.emit(errorEvent(err), agent, modelID)
		return err
	}

	chunks := chunkBytes(result.Audio, MaxAudioChunkBytes)
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}
	for i, chunk := range chunks {
		r.emit(models.StreamEvent{
			Type: models.StreamAudio,
			Audio: &models.AudioStreamPayload{
				Format:     result.Format,
				ChunkIndex: i,
				Data:       base64.StdEncoding.EncodeToString(chunk),
				Final:      i == len(chunks)-1,
			},
		}, agent, modelID)
	}

	if entry := r.recordUsage(modelID, result.Usage); entry != nil {
		r.emit(models.StreamEvent{Type: models.StreamCostUpdate, Usage: entry}, agent, modelID)
	}
	return nil
}

func chunkBytes(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	var chunks [][]byte
	for offset := 0; offset < len(data); offset += size {
		end := offset + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}

// TranscriptionResult is what a transcription attempt produces.
type TranscriptionResult struct {
	Text  string
	Usage usage.Usage
}

// TranscribeFunc performs one attempt at transcribing audio, invoking
// onDelta with each partial transcript as it becomes available.
type TranscribeFunc func(ctx context.Context, onDelta func(text string)) (TranscriptionResult, error)

// StreamTranscription waits out any active pause, retries fn per the
// runtime's retry policy (only before the first delta is emitted, since a
// partially-transcribed attempt can't be safely replayed), forwards every
// partial transcript as a transcription_delta event, then emits
// transcription_complete and a cost_update.
func (r *Runtime) StreamTranscription(ctx context.Context, agent models.AgentSnapshot, modelID string, fn TranscribeFunc) (string, error) {
	var final TranscriptionResult
	run := retryengine.RetryStream(ctx, r.Policy, r.preCall, func(ctx context.Context, attempt int, emitDelta func(string) error) error {
		result, err := fn(ctx, func(text string) {
			_ = emitDelta(text)
		})
		if err != nil {
			return err
		}
		final = result
		return nil
	})

	err := run(func(text string) error {
		r.emit(models.StreamEvent{Type: models.StreamTranscriptionDelta, Transcription: text}, agent, modelID)
		return nil
	})
	if err != nil {
		r.emit(errorEvent(err), agent, modelID)
		return "", err
	}

	r.emit(models.StreamEvent{Type: models.StreamTranscriptionDone, Transcription: final.Text}, agent, modelID)
	if entry := r.recordUsage(modelID, final.Usage); entry != nil {
		r.emit(models.StreamEvent{Type: models.StreamCostUpdate, Usage: entry}, agent, modelID)
	}
	return final.Text, nil
}

// EmbeddingResult is what an embedding attempt produces.
type EmbeddingResult struct {
	Vectors [][]float64
	Usage   usage.Usage
}

// EmbeddingFunc performs one attempt at embedding a batch of inputs.
type EmbeddingFunc func(ctx context.Context) (EmbeddingResult, error)

// RunEmbedding waits out any active pause, retries fn per the runtime's
// retry policy, records the usage it consumed, and emits a cost_update.
// Embedding has no intermediate deltas to stream, so this is a single
// round trip rather than a Stream* wrapper.
func (r *Runtime) RunEmbedding(ctx context.Context, agent models.AgentSnapshot, modelID string, fn EmbeddingFunc) ([][]float64, error) {
	result, err := retryengine.Retry(ctx, r.Policy, r.preCall, func(ctx context.Context, attempt int) (EmbeddingResult, error) {
		return fn(ctx)
	})
	if err != nil {
		r.emit(errorEvent(err), agent, modelID)
		return nil, err
	}
	if entry := r.recordUsage(modelID, result.Usage); entry != nil {
		r.emit(models.StreamEvent{Type: models.StreamCostUpdate, Usage: entry}, agent, modelID)
	}
	return result.Vectors, nil
}

// ImageResult is what an image-generation attempt produces.
type ImageResult struct {
	Images [][]byte // one or more generated images
	Format string
	Usage  usage.Usage
}

// ImageFunc performs one attempt at generating image(s).
type ImageFunc func(ctx context.Context) (ImageResult, error)

// RunImage waits out any active pause, retries fn per the runtime's retry
// policy, records the usage it consumed, and emits a cost_update.
func (r *Runtime) RunImage(ctx context.Context, agent models.AgentSnapshot, modelID string, fn ImageFunc) (ImageResult, error) {
	result, err := retryengine.Retry(ctx, r.Policy, r.preCall, func(ctx context.Context, attempt int) (ImageResult, error) {
		return fn(ctx)
	})
	if err != nil {
		r.emit(errorEvent(err), agent, modelID)
		return ImageResult{}, err
	}
	if entry := r.recordUsage(modelID, result.Usage); entry != nil {
		r.emit(models.StreamEvent{Type: models.StreamCostUpdate, Usage: entry}, agent, modelID)
	}
	return result, nil
}

func errorEvent(err error) models.StreamEvent {
	return models.StreamEvent{
		Type:        models.StreamError,
		Error:       err.Error(),
		Recoverable: !errors.Is(err, pause.ErrAborted) && retryengine.IsRetryable(err),
	}
}
