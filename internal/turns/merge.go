package turns

import (
	"strings"
	"unicode"
)

// Text merge helpers for memory records. Assistant output frequently repeats itself
// across streamed and final copies of the same message, so the detail composition
// dedups at paragraph and sentence granularity before storing.

// normalizeAssistantText collapses duplicated paragraphs and sentences and strips a
// trailing dangling label (a heading like "Summary:" with nothing after it).
func normalizeAssistantText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	seen := make(map[string]bool)
	var paragraphs []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		key := comparableKey(para)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		paragraphs = append(paragraphs, dedupSentences(para))
	}

	out := strings.Join(paragraphs, "\n\n")
	return stripDanglingLabel(out)
}

// dedupSentences removes exact repeats inside a single paragraph while preserving
// original sentence text and order.
func dedupSentences(para string) string {
	sentences := splitSentences(para)
	if len(sentences) < 2 {
		return para
	}
	seen := make(map[string]bool, len(sentences))
	var kept []string
	for _, sent := range sentences {
		key := comparableKey(sent)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, sent)
	}
	if len(kept) == len(sentences) {
		return para
	}
	return strings.Join(kept, " ")
}

// splitSentences breaks text on terminal punctuation and newlines, keeping the
// punctuation attached to its sentence.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		switch r {
		case '\n':
			flush()
		case '.', '!', '?', '。', '！', '？':
			b.WriteRune(r)
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

// comparableKey lowercases and strips whitespace and punctuation so trivially
// restyled repeats compare equal.
func comparableKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// stripDanglingLabel drops a final line that is just a label ("Summary:", "Notes:")
// left behind after its body was deduplicated away.
func stripDanglingLabel(text string) string {
	lines := strings.Split(text, "\n")
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last == "" {
			lines = lines[:len(lines)-1]
			continue
		}
		if strings.HasSuffix(last, ":") && len(strings.Fields(last)) <= 3 {
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// novelContent returns the assistant sentences not already covered by the digest.
// Short fragments (under 12 comparable runes) are treated as noise, not novelty.
func novelContent(digest, assistant string) string {
	digestKey := comparableKey(digest)
	var kept []string
	for _, sent := range splitSentences(assistant) {
		key := comparableKey(sent)
		if len([]rune(key)) < 12 {
			continue
		}
		if digestKey != "" && strings.Contains(digestKey, key) {
			continue
		}
		kept = append(kept, sent)
	}
	return strings.Join(kept, " ")
}

// composeDetail builds the stored detail body: the user's input, the digest, and any
// assistant content the digest did not cover.
func composeDetail(input, digest, assistant string) string {
	var parts []string
	if input = strings.TrimSpace(input); input != "" {
		parts = append(parts, "User: "+input)
	}
	if digest = strings.TrimSpace(digest); digest != "" {
		parts = append(parts, "Assistant: "+digest)
	}
	if novel := novelContent(digest, assistant); novel != "" {
		parts = append(parts, novel)
	}
	return strings.Join(parts, "\n\n")
}
