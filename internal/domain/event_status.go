package domain

import "strings"

// EventOutcome is the normalized meaning of a provider status string.
type EventOutcome string

const (
	OutcomeSuccess   EventOutcome = "success"
	OutcomeFailure   EventOutcome = "failure"
	OutcomeUnhandled EventOutcome = "unhandled"
)

// Failure words are matched before success words so a status such as
// "payment_failed" is never read as a success.
var (
	failureStatusWords = []string{"failed", "rejected", "error"}
	successStatusWords = []string{"paid", "completed", "received", "success"}
	// "active" is what the Pix provider reports for a settled charge; it is
	// matched exactly because it is too generic for substring matching.
	successStatusExact = []string{"active"}
)

// NormalizeEventStatus maps a raw provider status or event name to an outcome.
// Matching is case-insensitive and substring-based except for exact tokens.
func NormalizeEventStatus(raw string) EventOutcome {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return OutcomeUnhandled
	}
	for _, w := range failureStatusWords {
		if strings.Contains(s, w) {
			return OutcomeFailure
		}
	}
	for _, w := range successStatusWords {
		if strings.Contains(s, w) {
			return OutcomeSuccess
		}
	}
	for _, w := range successStatusExact {
		if s == w {
			return OutcomeSuccess
		}
	}
	return OutcomeUnhandled
}
