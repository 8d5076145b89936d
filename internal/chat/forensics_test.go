package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/blackbee/ai-forensics/internal/assets"
	"google.golang.org/genai"
)

const aiVerdict = `{
  "isLikelyAI": true,
  "confidenceScore": 92,
  "verdictTitle": "极有可能是AI生成",
  "reasoning": "手部结构异常，光影方向不一致。",
  "flaws": ["手指扭曲", "左侧阴影方向不一致"],
  "remediationPrompt": "同一场景，解剖学正确的手部，关节清晰，符合物理规律的自然光照，一致的阴影投射"
}`

const realVerdict = `{"isLikelyAI": false, "confidenceScore": 85, "verdictTitle": "真实照片", "reasoning": "噪点与镜头畸变符合真实相机特征。", "flaws": [], "remediationPrompt": ""}`

type fakeGenerator struct {
	text  string
	err   error
	delay time.Duration

	calls    int
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	deadline bool
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.contents = contents
	f.config = config
	_, f.deadline = ctx.Deadline()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(f.text), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     1200,
			CandidatesTokenCount: 150,
		},
	}
}

var imageBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}

func encodedImage() string {
	return base64.StdEncoding.EncodeToString(imageBytes)
}

func TestAnalyzeAIVerdict(t *testing.T) {
	gen := &fakeGenerator{text: aiVerdict}
	a := NewAnalyzer(gen, WithModel("test-model"))

	result, err := a.Analyze(context.Background(), encodedImage(), "image/png")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if !result.IsLikelyAI {
		t.Error("expected IsLikelyAI to be true")
	}
	if result.ConfidenceScore != 92 {
		t.Errorf("ConfidenceScore = %v, want 92", result.ConfidenceScore)
	}
	if result.VerdictTitle != "极有可能是AI生成" {
		t.Errorf("VerdictTitle = %q", result.VerdictTitle)
	}
	if len(result.Flaws) != 2 || result.Flaws[0] != "手指扭曲" {
		t.Errorf("Flaws = %v", result.Flaws)
	}
	if !strings.Contains(result.RemediationPrompt, "关节清晰") {
		t.Errorf("RemediationPrompt = %q", result.RemediationPrompt)
	}
}

func TestAnalyzeRealVerdict(t *testing.T) {
	a := NewAnalyzer(&fakeGenerator{text: realVerdict})

	result, err := a.Analyze(context.Background(), encodedImage(), "image/jpeg")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if result.IsLikelyAI {
		t.Error("expected IsLikelyAI to be false")
	}
	if len(result.Flaws) != 0 || result.RemediationPrompt != "" {
		t.Errorf("expected no flaws or remediation, got %v / %q", result.Flaws, result.RemediationPrompt)
	}
}

func TestAnalyzeSendsSingleRequest(t *testing.T) {
	gen := &fakeGenerator{text: realVerdict}
	a := NewAnalyzer(gen, WithModel("test-model"))

	if _, err := a.Analyze(context.Background(), encodedImage(), "image/png"); err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}

	if gen.calls != 1 {
		t.Fatalf("GenerateContent called %d times, want 1", gen.calls)
	}
	if gen.model != "test-model" {
		t.Errorf("model = %q, want test-model", gen.model)
	}
	if !gen.deadline {
		t.Error("expected the request context to carry a deadline")
	}
	if len(gen.contents) != 1 || len(gen.contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents shape: %+v", gen.contents)
	}

	blob := gen.contents[0].Parts[0].InlineData
	if blob == nil {
		t.Fatal("first part should carry the inline image")
	}
	if blob.MIMEType != "image/png" {
		t.Errorf("blob MIME type = %q", blob.MIMEType)
	}
	if string(blob.Data) != string(imageBytes) {
		t.Error("blob data does not match decoded payload")
	}
	if gen.contents[0].Parts[1].Text != assets.ForensicsSystemPrompt {
		t.Error("second part should be the forensic instruction")
	}

	if gen.config.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", gen.config.ResponseMIMEType)
	}
	schema := gen.config.ResponseSchema
	if schema == nil || schema.Type != genai.TypeObject {
		t.Fatalf("unexpected schema: %+v", schema)
	}
	if strings.Join(schema.Required, ",") != "isLikelyAI,confidenceScore,verdictTitle,reasoning" {
		t.Errorf("Required = %v", schema.Required)
	}
	if flaws := schema.Properties[FieldFlaws]; flaws == nil || flaws.Type != genai.TypeArray || flaws.Items.Type != genai.TypeString {
		t.Errorf("flaws schema = %+v", flaws)
	}
}

func TestAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"transport error", &fakeGenerator{err: errors.New("connection reset")}},
		{"empty text", &fakeGenerator{text: ""}},
		{"malformed JSON", &fakeGenerator{text: `{"isLikelyAI": true, "confidenceScore": `}},
		{"prose", &fakeGenerator{text: "这张图片看起来是AI生成的。"}},
		{"missing required field", &fakeGenerator{text: `{"isLikelyAI": true, "confidenceScore": 50, "verdictTitle": "x"}`}},
		{"score above range", &fakeGenerator{text: `{"isLikelyAI": false, "confidenceScore": 150, "verdictTitle": "x", "reasoning": "y"}`}},
		{"score below range", &fakeGenerator{text: `{"isLikelyAI": false, "confidenceScore": -1, "verdictTitle": "x", "reasoning": "y"}`}},
		{"score wrong type", &fakeGenerator{text: `{"isLikelyAI": false, "confidenceScore": "high", "verdictTitle": "x", "reasoning": "y"}`}},
		{"non-string flaws", &fakeGenerator{text: `{"isLikelyAI": true, "confidenceScore": 90, "verdictTitle": "x", "reasoning": "y", "flaws": [1, 2], "remediationPrompt": "z"}`}},
		{"flaws without remediation", &fakeGenerator{text: `{"isLikelyAI": true, "confidenceScore": 90, "verdictTitle": "x", "reasoning": "y", "flaws": ["a"]}`}},
		{"trailing data", &fakeGenerator{text: realVerdict + ` {"extra": true}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(tt.gen)
			result, err := a.Analyze(context.Background(), encodedImage(), "image/png")
			if !errors.Is(err, ErrAnalysisFailed) {
				t.Fatalf("expected ErrAnalysisFailed, got %v", err)
			}
			if result != nil {
				t.Errorf("expected nil result, got %+v", result)
			}
			if tt.gen.calls != 1 {
				t.Errorf("GenerateContent called %d times, want exactly 1", tt.gen.calls)
			}
		})
	}
}

func TestAnalyzeInvalidPayload(t *testing.T) {
	gen := &fakeGenerator{text: realVerdict}
	a := NewAnalyzer(gen)

	for _, encoded := range []string{"not base64!!", ""} {
		if _, err := a.Analyze(context.Background(), encoded, "image/png"); !errors.Is(err, ErrAnalysisFailed) {
			t.Errorf("Analyze(%q): expected ErrAnalysisFailed, got %v", encoded, err)
		}
	}
	if gen.calls != 0 {
		t.Errorf("no request should be sent for an invalid payload, got %d", gen.calls)
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	gen := &fakeGenerator{text: realVerdict, delay: time.Second}
	a := NewAnalyzer(gen, WithTimeout(20*time.Millisecond))

	_, err := a.Analyze(context.Background(), encodedImage(), "image/png")
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("expected ErrAnalysisFailed, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline error to be wrapped, got %v", err)
	}
}

func TestNewAnalyzerDefaults(t *testing.T) {
	t.Setenv("GEMINI_MODEL", "")

	a := NewAnalyzer(&fakeGenerator{}, WithModel(""))
	if a.Model() != DefaultModelName {
		t.Errorf("Model() = %q, want %q", a.Model(), DefaultModelName)
	}
	if a.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", a.Timeout(), DefaultTimeout)
	}
}

func TestGetModelNameFromEnv(t *testing.T) {
	t.Setenv("GEMINI_MODEL", ModelGemini25Pro)
	if got := GetModelName(); got != ModelGemini25Pro {
		t.Errorf("GetModelName() = %q, want %q", got, ModelGemini25Pro)
	}
}

func TestParseResultAllowsUnknownFields(t *testing.T) {
	r, err := ParseResult(`{"isLikelyAI": false, "confidenceScore": 0, "verdictTitle": "真实照片", "reasoning": "r", "extra": 1}`)
	if err != nil {
		t.Fatalf("ParseResult returned error: %v", err)
	}
	if r.ConfidenceScore != 0 {
		t.Errorf("ConfidenceScore = %v, want 0", r.ConfidenceScore)
	}
}

func TestResultClone(t *testing.T) {
	orig := &Result{IsLikelyAI: true, Flaws: []string{"a"}}
	c := orig.Clone()
	c.Flaws[0] = "b"
	if orig.Flaws[0] != "a" {
		t.Error("Clone shares the flaws slice")
	}
	if (*Result)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestNewGeminiClientRejectsEmptyKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestParseResultDropsDetailsForRealVerdict(t *testing.T) {
	r, err := ParseResult(`{"isLikelyAI": false, "confidenceScore": 70, "verdictTitle": "真实照片", "reasoning": "r",
		"flaws": ["手指扭曲"], "remediationPrompt": "FIX HANDS"}`)
	if err != nil {
		t.Fatalf("ParseResult returned error: %v", err)
	}
	if r.Flaws != nil || r.RemediationPrompt != "" {
		t.Errorf("real verdict kept details: %v / %q", r.Flaws, r.RemediationPrompt)
	}
}

func TestSanitized(t *testing.T) {
	ai := &Result{IsLikelyAI: true, Flaws: []string{"a"}, RemediationPrompt: "p"}
	if got := ai.Sanitized(); len(got.Flaws) != 1 || got.RemediationPrompt != "p" {
		t.Errorf("AI verdict lost details: %+v", got)
	}

	realResult := &Result{Flaws: []string{"a"}, RemediationPrompt: "p"}
	got := realResult.Sanitized()
	if got.Flaws != nil || got.RemediationPrompt != "" {
		t.Errorf("real verdict kept details: %+v", got)
	}
	if len(realResult.Flaws) != 1 {
		t.Error("Sanitized modified its receiver")
	}
	if (*Result)(nil).Sanitized() != nil {
		t.Error("Sanitized of nil should be nil")
	}
}
