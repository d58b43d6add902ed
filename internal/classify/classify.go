// Package classify maps inbound reply subjects to a response taxonomy and
// extracts best-effort position titles from outbound subjects.
package classify

import (
	"regexp"
	"strings"

	"github.com/appliflow/appliflow/internal/domain"
)

// Keyword groups checked in order: interview, offer, negative, info. First
// match wins, so a subject containing both "interview" and "regret"
// classifies as interview. Reordering the groups changes classifications.
var categoryGroups = []struct {
	responseType domain.ResponseType
	terms        []string
}{
	{domain.ResponseInterview, []string{
		"interview", "entretien", "phone screen", "screening call",
		"schedule a call", "schedule a meeting", "availability",
		"calendly", "meet the team", "technical assessment",
	}},
	{domain.ResponseOffer, []string{
		"offer", "offre", "congratulations", "felicitations",
		"welcome aboard", "employment contract", "proposal of employment",
	}},
	{domain.ResponseNegative, []string{
		"unfortunately", "regret", "not moving forward", "not to move forward",
		"other candidates", "another candidate", "position has been filled",
		"not selected", "declined", "malheureusement", "ne donnons pas suite",
		"pas retenu",
	}},
	{domain.ResponseInfo, []string{
		"application received", "received your application",
		"thank you for applying", "thank you for your application",
		"confirmation", "well received", "acknowledg",
		"accuse de reception", "bien recu", "candidature recue",
	}},
}

// Classify maps a free-text subject to a response type. Case-insensitive;
// unmatched subjects fall through to "other".
func Classify(subject string) domain.ResponseType {
	lowered := strings.ToLower(subject)
	for _, group := range categoryGroups {
		for _, term := range group.terms {
			if strings.Contains(lowered, term) {
				return group.responseType
			}
		}
	}
	return domain.ResponseOther
}

// StatusForResponseType maps a response type to the application status it
// implies. An empty status means no transition (the "other" bucket).
func StatusForResponseType(responseType domain.ResponseType) domain.ApplicationStatus {
	switch responseType {
	case domain.ResponsePositive, domain.ResponseInfo:
		return domain.StatusResponded
	case domain.ResponseNegative:
		return domain.StatusRejected
	case domain.ResponseInterview:
		return domain.StatusInterview
	case domain.ResponseOffer:
		return domain.StatusOffer
	}
	return ""
}

const (
	spontaneousPlaceholder = "Spontaneous Application"
	maxPositionLength      = 80
)

var positionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)position\s*:\s*(.+)`),
	regexp.MustCompile(`(?i)application\s+for\s+(?:the\s+)?(?:position\s+of\s+)?(.+)`),
	regexp.MustCompile(`(?i)applying\s+for\s+(?:the\s+)?(.+)`),
	regexp.MustCompile(`(?i)candidature\s+(?:pour\s+le\s+poste\s+de|au\s+poste\s+de|pour)\s+(.+)`),
}

// ExtractPosition pulls a position title out of an outbound subject line.
// Falls back to the truncated subject, or a placeholder for empty subjects.
func ExtractPosition(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return spontaneousPlaceholder
	}
	for _, pattern := range positionPatterns {
		match := pattern.FindStringSubmatch(subject)
		if len(match) < 2 {
			continue
		}
		position := strings.Trim(strings.TrimSpace(match[1]), ".,;:!-– ")
		if position != "" {
			return truncate(position, maxPositionLength)
		}
	}
	return truncate(subject, maxPositionLength)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max])
}
