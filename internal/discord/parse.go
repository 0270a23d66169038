package discord

import (
	"strings"
	"unicode/utf8"
)

// MessageLimit is the longest message content Discord accepts.
const MessageLimit = 2000

// ParseCommand splits content of the form "<prefix><name> args..." into the
// lower-cased command name and its whitespace separated arguments.
func ParseCommand(prefix, content string) (string, []string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func isSnowflake(s string) bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// userID extracts the user ID from a mention (<@id>, <@!id>) or a bare ID.
func userID(ref string) (string, bool) {
	id := ref
	if strings.HasPrefix(ref, "<@") && strings.HasSuffix(ref, ">") {
		id = strings.TrimPrefix(strings.TrimSuffix(strings.TrimPrefix(ref, "<@"), ">"), "!")
	}
	return id, isSnowflake(id)
}

// roleID extracts the role ID from a role mention (<@&id>) or a bare ID.
func roleID(ref string) (string, bool) {
	id := ref
	if strings.HasPrefix(ref, "<@&") && strings.HasSuffix(ref, ">") {
		id = strings.TrimSuffix(strings.TrimPrefix(ref, "<@&"), ">")
	}
	return id, isSnowflake(id)
}

// SplitMessage cuts text into chunks of at most limit characters, breaking
// after newlines where possible.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}
