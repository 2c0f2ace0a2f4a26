package specpipe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Closing fences must start a line so backticks inside JSON strings
	// do not terminate the block early.
	jsonFenceRe  = regexp.MustCompile("(?s)```json[ \\t]*\\n(.*?)\\n[ \\t]*```")
	plainFenceRe = regexp.MustCompile("(?s)```[ \\t]*\\n(.*?)\\n[ \\t]*```")
	taskTokenRe  = regexp.MustCompile(`<task-complete>(\d+)</task-complete>`)
)

// ExtractJSON pulls a JSON document out of raw CLI output.
//
// Precedence: a ```json fenced block, then any plain fenced block, then
// the first balanced {...} or [...] substring, then the raw trimmed text.
func ExtractJSON(text string) string {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := plainFenceRe.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if looksLikeJSON(candidate) {
			return candidate
		}
	}
	if s := firstBalanced(text); s != "" {
		return s
	}
	return strings.TrimSpace(text)
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// firstBalanced scans for the first balanced {...} or [...] substring,
// ignoring brackets inside JSON string literals.
func firstBalanced(text string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// DetectTaskComplete scans CLI output for a <task-complete>N</task-complete>
// token and returns the task id.
func DetectTaskComplete(output string) (int, bool) {
	m := taskTokenRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParsePhaseOutput extracts and merges a phase result into out. The raw
// output is returned alongside any error so callers can persist it for
// diagnosis.
func ParsePhaseOutput(phase Phase, output string, out *Output) error {
	doc := ExtractJSON(output)
	if doc == "" {
		return fmt.Errorf("no JSON found in %s output", phase)
	}
	return out.Merge(phase, []byte(doc))
}
