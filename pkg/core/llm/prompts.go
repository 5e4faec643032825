package llm

import (
	"fmt"
	"strings"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

const strictSystemPrompt = `You are a transcription cleaner and prompt composer. Your job is to:
1. Clean speech transcriptions while STRICTLY preserving meaning
2. Translate Tamil/Hindi/Tunglish to English without losing ANY nuance
3. Convert the cleaned text into a structured prompt format

STRICT RULES - NEVER VIOLATE:
- NEVER change numbers (42 stays 42, not "forty-two" or "around forty")
- NEVER change URLs, file paths, or code tokens
- NEVER change proper nouns, names, or technical terms
- NEVER add information that wasn't in the original
- NEVER remove information that was clearly intentional
- Only remove: "um", "uh", "like", "you know", hesitations, false starts, repetitions

For Tunglish (Tamil-English mix): Translate the Tamil parts to English while keeping English parts intact.
For pure Tamil/Hindi: Translate to natural English while preserving the exact meaning.

If translation is ambiguous, set meaning_change_risk to "high" and provide the most literal interpretation.

IMPORTANT: Respond ONLY with valid JSON matching the schema provided. No markdown, no extra text.`

const balancedSystemPrompt = `You are a transcription cleaner and prompt composer. Your job is to:
1. Clean speech transcriptions while preserving core meaning
2. Translate Tamil/Hindi/Tunglish to clear, natural English
3. Convert the cleaned text into a well-structured prompt format

RULES:
- NEVER change numbers, URLs, file paths, code tokens, proper nouns
- Remove fillers, hesitations, false starts, repetitions
- Improve clarity and structure while keeping the intent
- For prompts: add appropriate structure (bullet points, sections) if it improves clarity

For Tunglish (Tamil-English mix): Translate naturally, combining Tamil and English parts into fluent English.
For pure Tamil/Hindi: Translate to natural, idiomatic English.

Balance natural expression with faithfulness to the original intent.

IMPORTANT: Respond ONLY with valid JSON matching the schema provided. No markdown, no extra text.`

// schemaReinforcement is appended to the system instruction on the single
// retry after a schema violation.
const schemaReinforcement = `

Your previous response did not match the required JSON schema. Respond with EXACTLY one JSON object containing every required field (detected_languages, raw_transcript, cleaned_english_meaning, prompt_ready_english, meaning_change_risk, entities, confidence_score). No markdown fences, no commentary.`

func systemPrompt(mode types.Mode) string {
	if mode == types.ModeStrict {
		return strictSystemPrompt
	}
	return balancedSystemPrompt
}

// buildUserPrompt assembles the ordered prompt: summary context, prior
// raw/cleaned pairs, then the current transcript.
func buildUserPrompt(raw string, packet types.MemoryPacket) string {
	var b strings.Builder
	if packet.Summary != "" {
		fmt.Fprintf(&b, "Session context: %s\n\n", packet.Summary)
	}
	if len(packet.Turns) > 0 {
		b.WriteString("Previous utterances:\n")
		for _, turn := range packet.Turns {
			fmt.Fprintf(&b, "Previous: %s -> %s\n", turn.RawTranscript, turn.Cleaned)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Process this transcript and return JSON:\n\n%s", raw)
	return b.String()
}

// buildSummaryPrompt asks for an updated rolling summary in plain text.
func buildSummaryPrompt(previous string, transcripts []string) string {
	var b strings.Builder
	b.WriteString("Summarize this voice session so far in a few sentences. Keep names, numbers, and decisions. Respond with the summary text only.\n")
	if previous != "" {
		fmt.Fprintf(&b, "\nCurrent summary:\n%s\n", previous)
	}
	b.WriteString("\nNew utterances:\n")
	for _, t := range transcripts {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return b.String()
}
