package chat

import (
	"context"
	"regexp"
	"strings"

	"chatrelay/internal/upstream"
)

const titleInstruction = "Create a very short, concise chat title of 3-5 words for the following user message. Never exceed 5 words. Return ONLY the title without quotes or trailing punctuation."

// titlePromptLimit caps how much of the first message is sent upstream.
const titlePromptLimit = 400

var (
	whitespaceRun = regexp.MustCompile(`[\s\x{00A0}]+`)
	trailingPunct = regexp.MustCompile(`[.!?\-\x{2013}\x{2014}]+$`)
)

// SanitizeTitle normalizes a raw model response into a displayable title:
// trim, strip one surrounding quote pair, collapse whitespace runs, strip
// trailing punctuation. Empty results fall back to DefaultTitle.
func SanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.TrimPrefix(title, `"`)
	title = strings.TrimSuffix(title, `"`)
	title = whitespaceRun.ReplaceAllString(title, " ")
	title = strings.TrimSpace(trailingPunct.ReplaceAllString(title, ""))
	if title == "" {
		return DefaultTitle
	}
	return title
}

// GenerateTitle asks the upstream model for a short thread title derived from
// the user's first message. Any failure falls back to DefaultTitle.
func GenerateTitle(ctx context.Context, client *upstream.Client, model, prompt string) (string, error) {
	runes := []rune(prompt)
	if len(runes) > titlePromptLimit {
		prompt = string(runes[:titlePromptLimit])
	}

	raw, err := client.Chat(ctx, model, []upstream.Message{
		{Role: "system", Content: titleInstruction},
		{Role: RoleUser, Content: prompt},
	}, upstream.TitleOptions)
	if err != nil {
		return DefaultTitle, err
	}
	return SanitizeTitle(raw), nil
}
