// Package prompts centralizes the system/instruction text sent to the
// translation and summary backends.
package prompts

import "fmt"

// DefaultSystem is used when a lecture session does not override it.
const DefaultSystem = "You are a live lecture translator. Translate spoken, often informal, academic speech faithfully."

// ForSession resolves the final system prompt for a lecture session.
func ForSession(systemPrompt string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	return DefaultSystem
}

// Translate builds the instruction given to a TranslatorAdapter backend.
func Translate(sourceLang, targetLang string) string {
	return fmt.Sprintf("Translate %s to %s. Output the translation only, with no commentary.", sourceLang, targetLang)
}

// Summarize builds the prompt for SummaryEngine's progressive summary call.
func Summarize(sourceText string) string {
	return "Summarize the following lecture excerpt in 2-3 sentences, preserving technical terms:\n\n" + sourceText
}

// Vocabulary builds the prompt for the generateVocabulary command.
func Vocabulary(corpus string) string {
	return "Extract 10-15 key technical terms from this lecture transcript, with a one-sentence definition each:\n\n" + corpus
}

// FinalReport builds the prompt for the generateFinalReport command.
func FinalReport(corpus string) string {
	return "Write a structured final report summarizing this lecture transcript:\n\n" + corpus
}
