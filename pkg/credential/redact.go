package credential

import "unicode/utf8"

// previewLen is the maximum number of leading bytes kept by Redact.
const previewLen = 20

// Redact returns a preview of a credential that is safe for logs and events.
// At most half of the value (capped at 20 bytes) is kept, cut back to a rune
// boundary so the preview stays valid UTF-8.
func Redact(value string) string {
	if value == "" {
		return ""
	}
	keep := len(value) / 2
	if keep > previewLen {
		keep = previewLen
	}
	for keep > 0 && !utf8.RuneStart(value[keep]) {
		keep--
	}
	return value[:keep] + "..."
}
