package chat

import "google.golang.org/genai"

// Response field names shared by the schema, the prompt and the parser.
const (
	FieldIsLikelyAI        = "isLikelyAI"
	FieldConfidenceScore   = "confidenceScore"
	FieldVerdictTitle      = "verdictTitle"
	FieldReasoning         = "reasoning"
	FieldFlaws             = "flaws"
	FieldRemediationPrompt = "remediationPrompt"
)

// RequiredFields lists the fields every verdict must carry.
var RequiredFields = []string{
	FieldIsLikelyAI,
	FieldConfidenceScore,
	FieldVerdictTitle,
	FieldReasoning,
}

// ResponseSchema returns the structured-output schema attached to every
// forensic request. A fresh value is built per call since the SDK may
// retain the pointer.
func ResponseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			FieldIsLikelyAI: {
				Type:        genai.TypeBoolean,
				Description: "True if the image is likely AI-generated.",
			},
			FieldConfidenceScore: {
				Type:        genai.TypeNumber,
				Description: "Confidence score between 0 and 100.",
				Minimum:     genai.Ptr(0.0),
				Maximum:     genai.Ptr(100.0),
			},
			FieldVerdictTitle: {
				Type:        genai.TypeString,
				Description: "Short title of the verdict in Chinese.",
			},
			FieldReasoning: {
				Type:        genai.TypeString,
				Description: "Detailed explanation in Chinese.",
			},
			FieldFlaws: {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "List of specific visual flaws found in Chinese.",
			},
			FieldRemediationPrompt: {
				Type:        genai.TypeString,
				Description: "A prompt that fixes every listed flaw while keeping the scene.",
			},
		},
		Required: RequiredFields,
		PropertyOrdering: []string{
			FieldIsLikelyAI,
			FieldConfidenceScore,
			FieldVerdictTitle,
			FieldReasoning,
			FieldFlaws,
			FieldRemediationPrompt,
		},
	}
}
