package generation

import (
	"strings"

	"github.com/combot/combot/internal/models"
)

// ResponseType selects the instruction given to the model
type ResponseType string

const (
	ResponseInitial         ResponseType = "initial"
	ResponseContinuation    ResponseType = "continuation"
	ResponseLowContinuation ResponseType = "low_continuation"
	ResponseParaphrase      ResponseType = "paraphrase"
	ResponseIndex10         ResponseType = "index_10"
)

// ParaphrasePrefix marks paraphrased replies
const ParaphrasePrefix = "Paraphrased: "

// ErrorReply is shown when generation fails and no better fallback exists
const ErrorReply = "An error occurred while generating the response. Please try again."

// Valid reports whether t is a known response type
func (t ResponseType) Valid() bool {
	switch t {
	case ResponseInitial, ResponseContinuation, ResponseLowContinuation, ResponseParaphrase, ResponseIndex10:
		return true
	}
	return false
}

// usesUserInput reports whether the prompt is built from the latest message
// rather than the whole transcript
func (t ResponseType) usesUserInput() bool {
	return t == ResponseInitial || t == ResponseParaphrase || t == ResponseIndex10
}

// persona describes the agent for a think/feel combination
var persona = map[string]map[string]struct{ role, tone string }{
	models.LevelHigh: {
		models.LevelHigh: {"Empathetic customer service.", ""},
		models.LevelLow:  {"Robotic but effective customer service.", "Systematic and unemotional."},
	},
	models.LevelLow: {
		models.LevelHigh: {"Well-intentioned but unhelpful customer service.", "Empathetic but unhelpful."},
		models.LevelLow:  {"Robotic, unempathetic, and clueless customer service.", "Be confused and unemotional."},
	},
}

const luluVocabulary = "Use terms: gear, stoked, community, practice, intention, mindful, authentic."

// instructions are per think level; a low-think agent paraphrases without solving
var instructions = map[string]map[ResponseType]string{
	models.LevelHigh: {
		ResponseInitial:         "Paraphrase complaint and ask for details.",
		ResponseContinuation:    "Based on conversation, acknowledge and ask relevant follow-ups. Don't ask for info already provided.",
		ResponseLowContinuation: "Based on conversation, acknowledge what was said and ask a simple follow-up question. Keep it brief and conversational.",
		ResponseParaphrase:      "Acknowledge concern and ask relevant questions. Don't just repeat.",
		ResponseIndex10:         "Paraphrase complaint and ask for more info.",
	},
	models.LevelLow: {
		ResponseInitial:         "Paraphrase complaint but don't help.",
		ResponseContinuation:    "Based on conversation, paraphrase but don't offer solutions.",
		ResponseLowContinuation: "Based on conversation, repeat what was said and ask a basic question.",
		ResponseParaphrase:      "Acknowledge by paraphrasing, but don't provide helpful solutions.",
		ResponseIndex10:         "Paraphrase complaint and ask for info, but don't offer solutions.",
	},
}

// BuildPrompt composes the instruction for a scenario and response type.
// Unknown levels fall back to High.
func BuildPrompt(s models.Scenario, t ResponseType) string {
	think := normalizeLevel(s.ThinkLevel)
	feel := normalizeLevel(s.FeelLevel)
	p := persona[think][feel]

	parts := make([]string, 0, 5)
	if s.Brand == models.BrandLulu {
		parts = append(parts, "Lululemon customer service - "+strings.ToLower(strings.TrimSuffix(p.role, " customer service."))+".", luluVocabulary)
	} else {
		parts = append(parts, p.role)
	}
	parts = append(parts, instructions[think][t])
	if p.tone != "" {
		parts = append(parts, p.tone)
	}
	parts = append(parts, "3-4 sentences.")
	return strings.Join(parts, " ")
}

// Fallback returns the canned reply used when generation fails
func Fallback(t ResponseType) string {
	switch t {
	case ResponseInitial, ResponseIndex10:
		return "Thank you for reaching out. Could you tell me more about what happened?"
	case ResponseContinuation, ResponseLowContinuation:
		return "Thanks for sharing that. Is there anything else you can tell me about the issue?"
	default:
		return ErrorReply
	}
}

func normalizeLevel(level string) string {
	if level == models.LevelLow {
		return models.LevelLow
	}
	return models.LevelHigh
}
