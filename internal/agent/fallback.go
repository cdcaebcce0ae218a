package agent

import "strings"

// Canned replies used when the completion backend is unreachable. The
// classifier is checked in priority order: distress always wins over
// anything else the message matches.
const (
	FallbackDistress = "I hear that you're in distress. If this is an emergency, please call emergency services immediately. I have alerted your emergency contacts."
	FallbackAnxiety  = "I can hear that you're feeling overwhelmed right now. Take a deep breath with me. I'm here, and you are safe. Would you like to try a quick breathing exercise?"
	FallbackSleep    = "It sounds like rest is on your mind. Sleep is so important for healing. Have you tried lowering the lights and focusing on your breath?"
	FallbackGreeting = "Hello. I'm glad you reached out. How are you feeling in your body right now?"
	FallbackDefault  = "I'm here with you. I may be having trouble connecting to my full thoughts, but I am listening. Please tell me more about how you're feeling."
)

var (
	distressWords = []string{"help", "hurt", "pain", "dying", "emergency", "fell", "fall"}
	anxietyWords  = []string{"anxious", "scared", "worry", "worried", "stress", "panic"}
	sleepWords    = []string{"sleep", "tired", "insomnia", "awake", "night"}
	greetingWords = []string{"hi", "hello", "hey", "morning", "evening"}
)

// FallbackReply classifies a user message by keyword and returns the
// matching canned reply. Matching is a case-insensitive substring
// scan; the function is pure and never fails.
func FallbackReply(message string) string {
	msg := strings.ToLower(message)

	if containsAny(msg, distressWords) {
		return FallbackDistress
	}
	if containsAny(msg, anxietyWords) {
		return FallbackAnxiety
	}
	if containsAny(msg, sleepWords) {
		return FallbackSleep
	}
	if containsAny(msg, greetingWords) {
		return FallbackGreeting
	}
	return FallbackDefault
}

func containsAny(msg string, words []string) bool {
	for _, w := range words {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}
