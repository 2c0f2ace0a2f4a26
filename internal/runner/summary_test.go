package runner

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSummary_Section(t *testing.T) {
	out := "did some work\n\n## Summary\n\nImplemented the cart.\nFixed two tests.\n\n## Next steps\n\nmore\n"
	assert.Equal(t, "Implemented the cart.\nFixed two tests.", ExtractSummary(out))
}

func TestExtractSummary_CaseInsensitiveAndStopMarkers(t *testing.T) {
	out := "### summary\nline one\n---\nignored"
	assert.Equal(t, "line one", ExtractSummary(out))

	out = "## SUMMARY\ndetails here\n**Bold label**\nignored"
	assert.Equal(t, "details here", ExtractSummary(out))
}

func TestExtractSummary_Truncation(t *testing.T) {
	long := strings.Repeat("x", 3000)
	out := "## Summary\n" + long
	assert.Len(t, ExtractSummary(out), 2000)
}

func TestExtractSummary_FallbackLastLines(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 15; i++ {
		fmt.Fprintf(&b, "line %d\n\n", i)
	}
	got := ExtractSummary(b.String())
	lines := strings.Split(got, "\n")
	assert.Len(t, lines, 10)
	assert.Equal(t, "line 6", lines[0])
	assert.Equal(t, "line 15", lines[9])
}

func TestExtractSummary_FallbackTruncation(t *testing.T) {
	out := strings.Repeat("y", 5000)
	assert.Len(t, ExtractSummary(out), 1000)
}

func TestDetectPromise(t *testing.T) {
	assert.True(t, DetectPromise("work done\n<promise>COMPLETE</promise>\n", "<promise>COMPLETE</promise>"))
	assert.False(t, DetectPromise("still working", "<promise>COMPLETE</promise>"))
	assert.False(t, DetectPromise("anything", ""))
}
