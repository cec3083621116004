package slack

import (
	"fmt"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var resolutionEmoji = map[string]string{
	"responded": ":white_check_mark:",
	"cancelled": ":no_entry_sign:",
	"timeout":   ":hourglass:",
}

var resolutionLabel = map[string]string{
	"responded": "Request Answered",
	"cancelled": "Request Cancelled",
	"timeout":   "Request Timed Out",
}

func taskURL(taskID, dashboardURL string) string {
	return fmt.Sprintf("%s/tasks/%s", dashboardURL, taskID)
}

// BuildOpenedMessage creates Block Kit blocks announcing a new urgent
// UI request: what's being asked, and a link to answer it.
func BuildOpenedMessage(taskID, requestID, prompt, dashboardURL string) []goslack.Block {
	url := taskURL(taskID, dashboardURL)
	text := fmt.Sprintf(
		":bell: *Input needed* — <%s|Respond in Dashboard>\n\n%s\n\n_request: %s_",
		url, truncateForSlack(prompt), requestID,
	)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildResolvedMessage creates Block Kit blocks for a UI request's
// terminal outcome (responded, cancelled, or timed out), threaded under
// the original BuildOpenedMessage post.
func BuildResolvedMessage(taskID string, resolution string, dashboardURL string) []goslack.Block {
	emoji := resolutionEmoji[resolution]
	if emoji == "" {
		emoji = ":question:"
	}
	label := resolutionLabel[resolution]
	if label == "" {
		label = "Request " + resolution
	}

	url := taskURL(taskID, dashboardURL)
	text := fmt.Sprintf("%s *%s* — <%s|View in Dashboard>", emoji, label, url)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// truncateForSlack caps block text at Slack's section limit, counting
// runes so multi-byte content is never split mid-character.
func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated — view full request in dashboard)_"
}
