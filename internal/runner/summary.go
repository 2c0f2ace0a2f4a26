package runner

import (
	"regexp"
	"strings"
)

const (
	summaryMaxLen  = 2000
	fallbackMaxLen = 1000
	fallbackLines  = 10
)

var summaryHeadingRe = regexp.MustCompile(`(?im)^#{1,3}\s*summary\s*$`)

// ExtractSummary pulls the "## Summary" section out of an iteration's
// output, stopping at the next heading, horizontal rule, or bold label.
// Falls back to the last few non-empty lines when no section exists.
func ExtractSummary(output string) string {
	if loc := summaryHeadingRe.FindStringIndex(output); loc != nil {
		var kept []string
		for _, line := range strings.Split(output[loc[1]:], "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && (strings.HasPrefix(trimmed, "#") ||
				strings.HasPrefix(trimmed, "---") ||
				strings.HasPrefix(trimmed, "**")) {
				break
			}
			kept = append(kept, line)
		}
		section := strings.TrimSpace(strings.Join(kept, "\n"))
		if section != "" {
			return truncate(section, summaryMaxLen)
		}
	}

	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	if len(lines) > fallbackLines {
		lines = lines[len(lines)-fallbackLines:]
	}
	return truncate(strings.Join(lines, "\n"), fallbackMaxLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// DetectPromise reports whether the completion token appears in the raw
// output. The token is a literal substring match.
func DetectPromise(output, token string) bool {
	if token == "" {
		return false
	}
	return strings.Contains(output, token)
}
