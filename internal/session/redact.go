package session

import "regexp"

// secretPatterns match credential material that must never reach disk.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9-]{20,}`),
}

// Redact replaces recognized secrets with a placeholder. Applied to every
// message and tool log detail before it is persisted.
func Redact(text string) string {
	for _, re := range secretPatterns {
		text = re.ReplaceAllString(text, "[REDACTED]")
	}
	return text
}
