package decision

import (
	"strconv"
	"strings"
)

// Structured message payloads use `key=value` pairs separated by `;`, and
// topical text carries a `[topic]` prefix.

// PrefixTopic prepends `[topic] ` unless content already starts with a tag.
func PrefixTopic(topic, content string) string {
	if topic == "" || strings.HasPrefix(content, "[") {
		return content
	}
	return "[" + topic + "] " + content
}

// ExtractTopic finds the topic of a message: the leading `[topic]` tag,
// else a `topic=` field.
func ExtractTopic(content string) (string, bool) {
	if start := strings.IndexByte(content, '['); start >= 0 {
		if end := strings.IndexByte(content[start+1:], ']'); end > 0 {
			return content[start+1 : start+1+end], true
		}
	}
	return Field(content, "topic")
}

// Field returns the value of key in a `k=v;k=v` payload. Keys match only at
// the start of the payload or after a separator, so `row` does not match
// `suspect_row`.
func Field(content, key string) (string, bool) {
	token := key + "="
	for from := 0; from < len(content); {
		i := strings.Index(content[from:], token)
		if i < 0 {
			return "", false
		}
		i += from
		if i == 0 || strings.ContainsRune("; ", rune(content[i-1])) {
			rest := content[i+len(token):]
			if end := strings.IndexByte(rest, ';'); end >= 0 {
				rest = rest[:end]
			}
			return strings.TrimSpace(rest), true
		}
		from = i + len(token)
	}
	return "", false
}

// FloatField parses a numeric field.
func FloatField(content, key string) (float64, bool) {
	v, ok := Field(content, key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// IntField parses an integer field.
func IntField(content, key string) (int, bool) {
	v, ok := Field(content, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// understandingHint phrases a score for prompts.
func understandingHint(score float64) string {
	switch {
	case score < 0.4:
		return "your understanding of this topic is weak"
	case score > 0.8:
		return "your understanding of this topic is good"
	default:
		return "your understanding of this topic is average"
	}
}
