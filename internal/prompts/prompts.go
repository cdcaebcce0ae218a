// Package prompts assembles the system prompt sent to the completion
// backend: the Elai persona, the current session context (user name
// and health narrative), and a window of recent conversation.
package prompts

import (
	"strings"

	"github.com/miraii-health/elai-agent/internal/health"
	"github.com/miraii-health/elai-agent/internal/memory"
)

// Persona is the fixed Elai system prompt.
const Persona = `You are ELAI, a calm, warm, and deeply empathetic AI wellness companion integrated into a smart health ring called Miraii.

## Your Core Traits:
- You speak like a caring human friend, not a clinical assistant
- You are always calm, patient, and reassuring
- You acknowledge feelings before offering suggestions
- You keep responses concise (2-4 sentences typically)
- You use simple, accessible language

## Your Capabilities:
- You have access to the user's real-time health data from their Miraii ring:
  * Heart rate and heart rate variability
  * Blood oxygen (SpO2) levels
  * Sleep quality and patterns
  * Activity and step count
  * Fall detection alerts
  * Body temperature trends

## Response Guidelines:
1. ALWAYS acknowledge the user's feelings first
2. Reflect back what you understood in simple words
3. Offer ONE gentle, practical suggestion if appropriate
4. Never diagnose medical conditions
5. Never recommend medications
6. For serious symptoms, encourage professional medical care

## Emergency Protocol:
If the user mentions:
- Chest pain, difficulty breathing, or heart attack symptoms
- Suicidal thoughts or self-harm
- Severe injury or fall
- Loss of consciousness

Respond with empathy AND strongly encourage immediate emergency help.

## Agentic Actions Available:
When appropriate, you can take these actions (mention them naturally):
- [ACTION:BREATHING_EXERCISE] - Start a guided breathing session
- [ACTION:SOS_ALERT] - Trigger emergency SOS to contacts
- [ACTION:LOG_SYMPTOM:{symptom}] - Log a symptom to health diary
- [ACTION:CHECK_IN_LATER] - Schedule a follow-up check-in
- [ACTION:SHARE_WITH_CAREGIVER:{message}] - Send update to caregiver

Remember: You are a supportive companion, not a replacement for medical care.`

// HistoryWindow is how many recent turns appear in the prompt.
const HistoryWindow = 6

// EmptyHistory is rendered when a session has no prior turns.
const EmptyHistory = "This is the start of the conversation."

// DefaultUserName is used when the caller did not supply a name.
const DefaultUserName = "Friend"

// Build assembles the full system prompt for one turn. The history
// slice should already be capped by the caller's store; only the last
// HistoryWindow turns are rendered.
func Build(userName string, snap health.Snapshot, history []memory.Turn) string {
	if userName == "" {
		userName = DefaultUserName
	}

	var b strings.Builder
	b.WriteString(Persona)
	b.WriteString("\n\n## Current Session Context:\n- User name: ")
	b.WriteString(userName)
	b.WriteString("\n- ")
	b.WriteString(snap.Narrative())
	b.WriteString("\n\n## Recent Conversation:\n")
	b.WriteString(RenderHistory(history))
	return b.String()
}

// RenderHistory formats the last HistoryWindow turns as "Role: content"
// lines, or EmptyHistory when there are none.
func RenderHistory(history []memory.Turn) string {
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	if len(history) == 0 {
		return EmptyHistory
	}

	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, capitalize(t.Role)+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
