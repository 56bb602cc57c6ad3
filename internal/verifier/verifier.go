// Package verifier wraps a completed turn with a grading sub-agent that
// can send the turn back for another attempt with its critique folded in
// as context, mirroring a supervisor delegating a redo to a specialist.
package verifier

import (
	"context"
	"fmt"

	"github.com/nexuslabs/nexus/pkg/models"
)

// DefaultMaxAttempts bounds how many times Run will retry a turn that
// fails grading before giving up and returning the last attempt as-is.
const DefaultMaxAttempts = 2

// Verdict is the grading sub-agent's judgment of one attempt's output.
type Verdict struct {
	Pass     bool
	Critique string
}

// RunFunc produces one attempt's final text output for the given message
// history and agent identity.
type RunFunc func(ctx context.Context, messages []models.ConversationMessage, agent models.AgentSnapshot) (string, error)

// GradeFunc judges an attempt's output, typically by invoking a separate
// grading agent against the same RunFunc contract.
type GradeFunc func(ctx context.Context, output string) (Verdict, error)

// Result reports the outcome of a verified run.
type Result struct {
	Output   string
	Verified bool
	Attempts int
	Critique string
}

// Verifier re-runs a turn up to MaxAttempts times until GradeFunc passes
// it, feeding each rejection's critique back in as a system message for
// the next attempt.
type Verifier struct {
	MaxAttempts int
}

// New creates a Verifier with the given attempt budget; maxAttempts <= 0
// uses DefaultMaxAttempts.
func New(maxAttempts int) *Verifier {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Verifier{MaxAttempts: maxAttempts}
}

// Run executes run against messages, grades the result, and retries with
// the critique appended as a system message until grading passes or the
// attempt budget is exhausted. The final attempt's output is always
// returned, even if it never passed grading.
func (v *Verifier) Run(ctx context.Context, messages []models.ConversationMessage, agent models.AgentSnapshot, run RunFunc, grade GradeFunc) (Result, error) {
	maxAttempts := v.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	working := append([]models.ConversationMessage(nil), messages...)
	var lastOutput, lastCritique string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		output, err := run(ctx, working, agent)
		if err != nil {
			return Result{Attempts: attempt}, fmt.Errorf("verifier: attempt %d: %w", attempt, err)
		}
		lastOutput = output

		if grade == nil {
			return Result{Output: output, Verified: true, Attempts: attempt}, nil
		}

		verdict, err := grade(ctx, output)
		if err != nil {
			return Result{Output: output, Attempts: attempt}, fmt.Errorf("verifier: grading attempt %d: %w", attempt, err)
		}
		if verdict.Pass {
			return Result{Output: output, Verified: true, Attempts: attempt, Critique: verdict.Critique}, nil
		}

		lastCritique = verdict.Critique
		if attempt < maxAttempts {
			working = append(working, models.NewSystemMessage(
				"Your previous answer was reviewed and did not pass verification. "+
					"Critique: "+verdict.Critique+" Revise your response to address this critique.",
			))
		}
	}

	return Result{Output: lastOutput, Verified: false, Attempts: maxAttempts, Critique: lastCritique}, nil
}
