package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var freeTextPolicy = bluemonday.StrictPolicy()

// SanitizeFreeText strips markup from user-supplied text such as tracking
// notes and cancellation reasons, collapsing surrounding whitespace. Input
// longer than maxLen runes is truncated.
func SanitizeFreeText(value string, maxLen int) string {
	cleaned := strings.TrimSpace(freeTextPolicy.Sanitize(value))
	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}
