package agent

import (
	"regexp"
	"strings"
)

// SanitizeReply cleans LLM app output before it is posted to a channel.
// Reasoning blocks are removed, repeated paragraphs collapsed and leading
// blank lines dropped. Everything else passes through untouched.
func SanitizeReply(content string) string {
	if content == "" {
		return content
	}
	content = stripThinkingTags(content)
	content = collapseConsecutiveDuplicateBlocks(content)
	return stripLeadingBlankLines(content)
}

// Go regexp has no backreferences, so one pattern per tag.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}

	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

func stripLeadingBlankLines(content string) string {
	return leadingBlankLinesPattern.ReplaceAllString(content, "")
}
