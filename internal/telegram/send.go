package telegram

import (
	"strings"
	"unicode/utf8"
)

// chunkMessage splits a message into chunks of at most maxLen bytes, the
// Telegram message size limit, preferring newline boundaries and never
// splitting a UTF-8 sequence.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		// Try to split at a newline
		if idx := strings.LastIndex(text[:cutAt], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}
