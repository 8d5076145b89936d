package chat

// forensics.go sends one image to Gemini with the forensic instruction and
// turns the structured reply into a validated Result.
//
// The model is asked for JSON via ResponseMIMEType + ResponseSchema, but the
// reply is still treated as untrusted: anything that does not decode into a
// complete verdict is an analysis failure. Nothing is retried.

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blackbee/ai-forensics/internal/assets"
	"github.com/blackbee/ai-forensics/internal/jsonutil"
	"github.com/blackbee/ai-forensics/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ErrAnalysisFailed is returned for every failed analysis: transport errors,
// timeouts and replies that do not satisfy the response schema.
var ErrAnalysisFailed = errors.New("image analysis failed")

// MsgAnalysisFailed is the message shown to the user when analysis fails.
const MsgAnalysisFailed = "图片分析失败，请重试。"

// DefaultTimeout bounds a single analysis call.
const DefaultTimeout = 90 * time.Second

// ContentGenerator is the subset of the Gemini Models service used here.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Result is a validated forensic verdict.
type Result struct {
	IsLikelyAI        bool     `json:"isLikelyAI"`
	ConfidenceScore   float64  `json:"confidenceScore"`
	VerdictTitle      string   `json:"verdictTitle"`
	Reasoning         string   `json:"reasoning"`
	Flaws             []string `json:"flaws,omitempty"`
	RemediationPrompt string   `json:"remediationPrompt,omitempty"`
}

// Clone returns a deep copy so callers can never mutate a stored result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Flaws != nil {
		c.Flaws = append([]string(nil), r.Flaws...)
	}
	return &c
}

// Sanitized returns a copy in which a real verdict carries no flaws and no
// remediation prompt, whatever the model sent for them.
func (r *Result) Sanitized() *Result {
	c := r.Clone()
	if c != nil && !c.IsLikelyAI {
		c.Flaws = nil
		c.RemediationPrompt = ""
	}
	return c
}

// wireResult mirrors the response schema with pointers so that missing
// required fields can be told apart from zero values.
type wireResult struct {
	IsLikelyAI        *bool    `json:"isLikelyAI"`
	ConfidenceScore   *float64 `json:"confidenceScore"`
	VerdictTitle      *string  `json:"verdictTitle"`
	Reasoning         *string  `json:"reasoning"`
	Flaws             []string `json:"flaws"`
	RemediationPrompt *string  `json:"remediationPrompt"`
}

// Analyzer runs forensic analyses against a ContentGenerator.
// It holds no per-request state and is safe for concurrent use.
type Analyzer struct {
	gen     ContentGenerator
	model   string
	timeout time.Duration
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithModel overrides the Gemini model. Empty keeps the current value.
func WithModel(model string) Option {
	return func(a *Analyzer) {
		if model != "" {
			a.model = model
		}
	}
}

// WithTimeout bounds each call. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		a.timeout = d
	}
}

// NewAnalyzer returns an Analyzer using GetModelName() and DefaultTimeout
// unless overridden by opts.
func NewAnalyzer(gen ContentGenerator, opts ...Option) *Analyzer {
	a := &Analyzer{
		gen:     gen,
		model:   GetModelName(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Model returns the model name requests are sent to.
func (a *Analyzer) Model() string { return a.model }

// Timeout returns the per-call bound.
func (a *Analyzer) Timeout() time.Duration { return a.timeout }

// Analyze sends the base64 image data with the forensic instruction and
// returns the parsed verdict. Exactly one GenerateContent request is made.
// All failures wrap ErrAnalysisFailed.
func (a *Analyzer) Analyze(ctx context.Context, encodedData, mimeType string) (*Result, error) {
	data, err := base64.StdEncoding.DecodeString(encodedData)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not valid base64: %v", ErrAnalysisFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrAnalysisFailed)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			{Text: assets.ForensicsSystemPrompt},
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ResponseSchema(),
	}

	log.Info().
		Str("model", a.model).
		Str("mime_type", mimeType).
		Int("image_bytes", len(data)).
		Msg("Sending image to Gemini for forensic analysis...")

	callStart := time.Now()
	resp, err := a.gen.GenerateContent(ctx, a.model, contents, config)
	duration := time.Since(callStart)

	m := metrics.New().
		Dimension("Operation", "forensics").
		Metric("GeminiApiLatencyMs", float64(duration.Milliseconds()), metrics.UnitMilliseconds).
		Count("GeminiApiCalls").
		Property("model", a.model)

	if err != nil {
		m.Count("GeminiApiErrors").Flush()
		log.Error().Err(err).Dur("duration", duration).Msg("Gemini forensic analysis request failed")
		return nil, fmt.Errorf("%w: generate content: %w", ErrAnalysisFailed, err)
	}
	if resp == nil {
		m.Count("GeminiApiErrors").Flush()
		return nil, fmt.Errorf("%w: received empty response from Gemini API", ErrAnalysisFailed)
	}
	if resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount).
			Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}

	responseText := resp.Text()
	log.Debug().
		Int("response_length", len(responseText)).
		Dur("duration", duration).
		Msg("Gemini API response received for forensic analysis")

	result, err := ParseResult(responseText)
	if err != nil {
		m.Count("GeminiApiErrors").Flush()
		log.Warn().
			Err(err).
			Str("response_preview", jsonutil.Preview(responseText)).
			Msg("Gemini reply did not match the verdict schema")
		return nil, err
	}
	m.Flush()

	log.Info().
		Bool("is_likely_ai", result.IsLikelyAI).
		Float64("confidence", result.ConfidenceScore).
		Int("flaw_count", len(result.Flaws)).
		Dur("duration", duration).
		Msg("Forensic analysis complete")

	return result, nil
}

// ParseResult decodes and validates a reply against the response schema.
// Errors wrap ErrAnalysisFailed.
func ParseResult(raw string) (*Result, error) {
	w, err := jsonutil.DecodeStrict[wireResult](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	var missing []string
	if w.IsLikelyAI == nil {
		missing = append(missing, FieldIsLikelyAI)
	}
	if w.ConfidenceScore == nil {
		missing = append(missing, FieldConfidenceScore)
	}
	if w.VerdictTitle == nil {
		missing = append(missing, FieldVerdictTitle)
	}
	if w.Reasoning == nil {
		missing = append(missing, FieldReasoning)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrAnalysisFailed, strings.Join(missing, ", "))
	}

	score := *w.ConfidenceScore
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: confidence score %v outside [0, 100]", ErrAnalysisFailed, score)
	}

	r := &Result{
		IsLikelyAI:      *w.IsLikelyAI,
		ConfidenceScore: score,
		VerdictTitle:    *w.VerdictTitle,
		Reasoning:       *w.Reasoning,
		Flaws:           w.Flaws,
	}
	if w.RemediationPrompt != nil {
		r.RemediationPrompt = *w.RemediationPrompt
	}

	if r.IsLikelyAI && len(r.Flaws) > 0 && strings.TrimSpace(r.RemediationPrompt) == "" {
		return nil, fmt.Errorf("%w: %d flaws reported without a remediation prompt", ErrAnalysisFailed, len(r.Flaws))
	}

	return r.Sanitized(), nil
}
