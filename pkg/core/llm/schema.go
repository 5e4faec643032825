package llm

import (
	"encoding/json"
	"fmt"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// responseSchema constrains the model output. It mirrors types.LlmResult.
var responseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "detected_languages": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Languages detected in input (english, tamil, hindi, tunglish)"
    },
    "raw_transcript": {
      "type": "string",
      "description": "Original transcript exactly as provided"
    },
    "cleaned_english_meaning": {
      "type": "string",
      "description": "Cleaned English preserving exact meaning with minimal edits"
    },
    "prompt_ready_english": {
      "type": "string",
      "description": "Structured English formatted for LLM prompt use"
    },
    "removed_fillers": {
      "type": "boolean",
      "description": "Whether filler words were removed"
    },
    "meaning_change_risk": {
      "type": "string",
      "enum": ["low", "medium", "high"],
      "description": "Risk that cleaning altered the intended meaning"
    },
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "text": {"type": "string"},
          "type": {"type": "string"}
        },
        "required": ["text", "type"]
      },
      "description": "Key entities (names, numbers, URLs, code) that must not be changed"
    },
    "confidence_score": {
      "type": "number",
      "description": "Confidence in translation/cleanup accuracy (0-1)"
    }
  },
  "required": [
    "detected_languages",
    "raw_transcript",
    "cleaned_english_meaning",
    "prompt_ready_english",
    "meaning_change_risk",
    "entities",
    "confidence_score"
  ]
}`)

var requiredFields = []string{
	"detected_languages",
	"raw_transcript",
	"cleaned_english_meaning",
	"prompt_ready_english",
	"meaning_change_risk",
	"entities",
	"confidence_score",
}

// validateResult checks raw model output against the schema and decodes it.
// The model response is never trusted as-is; every violation comes back as a
// schema_invalid Error.
func validateResult(raw string) (*types.LlmResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, &Error{Kind: KindSchemaInvalid, Message: "response is not a JSON object", Err: err}
	}
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return nil, &Error{Kind: KindSchemaInvalid, Message: fmt.Sprintf("missing required field %q", name)}
		}
	}

	var result types.LlmResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, &Error{Kind: KindSchemaInvalid, Message: "field type mismatch", Err: err}
	}
	if !result.RiskLevel.Valid() {
		return nil, &Error{Kind: KindSchemaInvalid, Message: fmt.Sprintf("meaning_change_risk %q not in enum", result.RiskLevel)}
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, &Error{Kind: KindSchemaInvalid, Message: fmt.Sprintf("confidence_score %v outside [0,1]", result.Confidence)}
	}
	if result.CleanedMeaning == "" || result.PromptReady == "" {
		return nil, &Error{Kind: KindSchemaInvalid, Message: "empty cleaned or prompt-ready text"}
	}
	for i, e := range result.Entities {
		if e.Text == "" || e.Type == "" {
			return nil, &Error{Kind: KindSchemaInvalid, Message: fmt.Sprintf("entity %d missing text or type", i)}
		}
	}
	return &result, nil
}
