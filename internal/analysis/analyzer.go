// Package analysis extracts follow-up questions and insights from a
// growing interview transcript using the configured reasoning provider.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"interviewhelper/internal/llm"
)

// Insight is one candidate follow-up produced by the reasoning service.
// ID is the provider-assigned stable identity; it may be empty, in which
// case the pipeline assigns one.
type Insight struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"question"`
	Span string `json:"grounding_span,omitempty"`
}

// ClientFactory builds an llm client for a provider/model pair. Injected
// so tests can substitute a fake completion backend.
type ClientFactory func(provider, model string) (llm.Client, error)

const systemPrompt = `ROLE: Interview follow-up generator.

You receive the transcript of an in-progress interview. Your only job is to
propose up to three direct follow-up questions grounded in the transcript.

Rules:
1) Grounding: for each question include a short verbatim quote (<= 25 words)
   from the transcript that the question responds to. If you cannot quote
   it, do not ask it.
2) Recency: prefer the most recent utterances.
3) Scope: one question per line of inquiry. No compound questions.
4) Relevance: never ask anything already answered or implied.
5) Wording: brief, plain, operational phrasing a real interviewer would use.

Reply with ONLY a JSON array, no prose and no code fences. Each element:
{"id": "<stable id, reuse it if re-emitting the same question>",
 "question": "<the question>",
 "grounding_span": "<verbatim quote>"}`

// Analyzer runs one reasoning call per analysis cycle. A cycle failure is
// never fatal; the pipeline retries on its next trigger.
type Analyzer struct {
	model   string
	factory ClientFactory
	sleep   func(time.Duration)
}

// New builds an analyzer for a "provider/model_name" string.
func New(model string, factory ClientFactory) *Analyzer {
	return &Analyzer{
		model:   model,
		factory: factory,
		sleep:   time.Sleep,
	}
}

// Analyze submits the transcript window and returns zero or more insights.
// Transcripts too short to reason about yield no insights and no error.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) ([]Insight, error) {
	if len(strings.Fields(transcript)) < 20 {
		return nil, nil
	}

	provider, model, err := llm.ParseModel(a.model)
	if err != nil {
		return nil, err
	}

	client, err := a.factory(provider, model)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Current interview transcript:\n" + transcript},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			insights, parseErr := parseInsights(result)
			if parseErr == nil {
				return insights, nil
			}
			lastErr = parseErr
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < len(backoff) {
			a.sleep(backoff[attempt])
		}
	}
	return nil, fmt.Errorf("analysis failed after retries: %w", lastErr)
}

// parseInsights decodes the model's JSON array, tolerating code fences the
// provider sometimes wraps around structured output.
func parseInsights(raw string) ([]Insight, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var insights []Insight
	if err := json.Unmarshal([]byte(cleaned), &insights); err != nil {
		return nil, fmt.Errorf("parse analysis response: %w", err)
	}

	kept := insights[:0]
	for _, in := range insights {
		if strings.TrimSpace(in.Text) == "" {
			continue
		}
		kept = append(kept, in)
	}
	return kept, nil
}
