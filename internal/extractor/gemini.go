// Package extractor turns rasterized statement pages into a raw statement
// by calling a vision model with a taxonomy-constrained response schema.
package extractor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/logger"
	"google.golang.org/genai"
)

// ContentGenerator is the part of the GenAI client the extractor uses.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor extracts statements with a Gemini model.
type GeminiExtractor struct {
	models    ContentGenerator
	model     string
	timeout   time.Duration
	maxTokens int32
}

// Option configures a GeminiExtractor.
type Option func(*GeminiExtractor)

// WithModel overrides the model name.
func WithModel(name string) Option {
	return func(e *GeminiExtractor) {
		if name != "" {
			e.model = name
		}
	}
}

// WithTimeout bounds each extraction call. Zero disables the extractor's
// own deadline and relies on the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(e *GeminiExtractor) { e.timeout = d }
}

// WithMaxOutputTokens overrides the response token limit.
func WithMaxOutputTokens(n int32) Option {
	return func(e *GeminiExtractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// NewGeminiExtractor creates an extractor backed by a new GenAI client.
// An empty apiKey lets the SDK read GOOGLE_API_KEY / GEMINI_API_KEY or the
// Vertex AI environment variables.
func NewGeminiExtractor(ctx context.Context, apiKey string, opts ...Option) (*GeminiExtractor, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey}
	if apiKey != "" {
		cfg.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExtractor: create genai client: %w", err)
	}
	return NewGeminiExtractorWithGenerator(client.Models, opts...), nil
}

// NewGeminiExtractorWithGenerator creates an extractor over an existing
// content generator.
func NewGeminiExtractorWithGenerator(models ContentGenerator, opts ...Option) *GeminiExtractor {
	e := &GeminiExtractor{
		models:    models,
		model:     DefaultModelName,
		timeout:   DefaultTimeout,
		maxTokens: DefaultMaxOutputTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract sends all pages in one request and returns the raw statement.
// Upstream failures are reported as *domain.ExtractionError, responses that
// violate the schema as *domain.MalformedExtractionError and cancellation or
// timeout as *domain.CancelledError. Nothing is retried.
func (e *GeminiExtractor) Extract(ctx context.Context, pages []domain.RasterPage, taxonomy domain.Taxonomy, instructions string) (*domain.RawStatement, error) {
	if len(pages) == 0 {
		return nil, errors.New("Extract: no pages to extract from")
	}
	if err := taxonomy.Validate(); err != nil {
		return nil, fmt.Errorf("Extract: %w", err)
	}

	contents, err := buildContents(pages)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buildSystemInstruction(instructions, taxonomy), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   e.maxTokens,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    BuildResponseSchema(taxonomy),
		MediaResolution:   genai.MediaResolutionLow,
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	log := logger.FromContext(ctx)
	start := time.Now()

	resp, err := e.models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.CancelledError{Err: err}
		}
		return nil, &domain.ExtractionError{Err: err}
	}

	if resp == nil {
		return nil, &domain.MalformedExtractionError{Reason: "nil response from model"}
	}

	if resp.UsageMetadata != nil {
		log.Debug().
			Str("model", e.model).
			Int("page_count", len(pages)).
			Int32("tokens_input", resp.UsageMetadata.PromptTokenCount).
			Int32("tokens_output", resp.UsageMetadata.CandidatesTokenCount).
			Dur("duration", time.Since(start)).
			Msg("Extraction call completed")
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, &domain.MalformedExtractionError{
			Reason: fmt.Sprintf("request blocked: %s", resp.PromptFeedback.BlockReason),
		}
	}
	if len(resp.Candidates) == 0 {
		return nil, &domain.MalformedExtractionError{Reason: "response has no candidates"}
	}
	if reason := resp.Candidates[0].FinishReason; reason == genai.FinishReasonMaxTokens {
		return nil, &domain.MalformedExtractionError{Reason: "response truncated at the output token limit", Raw: resp.Text()}
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, &domain.MalformedExtractionError{Reason: "empty response from model"}
	}

	return decodeRawStatement(rawText)
}

// buildContents builds the single user message: the task text followed by
// every page image in page order.
func buildContents(pages []domain.RasterPage) ([]*genai.Content, error) {
	parts := make([]*genai.Part, 0, len(pages)+1)
	parts = append(parts, genai.NewPartFromText(taskPrompt))

	for _, p := range pages {
		data, err := base64.StdEncoding.DecodeString(p.Image)
		if err != nil {
			return nil, fmt.Errorf("Extract: page %d is not valid base64: %w", p.Index, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, imageMIMEType))
	}

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}
