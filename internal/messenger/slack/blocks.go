package slack

import (
	"fmt"
	"time"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/taskrelay/internal/messenger"
)

func outcomeEmoji(state string) string {
	switch state {
	case "succeeded":
		return ":white_check_mark:"
	case "failed":
		return ":x:"
	case "abandoned":
		return ":hourglass:"
	default:
		return ":grey_question:"
	}
}

// OutcomeText is the one-line summary of a session outcome.
func OutcomeText(o messenger.Outcome) string {
	return fmt.Sprintf("%s %s %s", outcomeEmoji(o.State), o.TaskType, o.State)
}

// BuildOutcomeBlocks builds Slack Block Kit blocks for a session outcome.
func BuildOutcomeBlocks(o messenger.Outcome) []slacklib.Block {
	text := fmt.Sprintf("%s *%s* `%s`", outcomeEmoji(o.State), o.TaskType, o.State)
	if o.Message != "" {
		text += "\n>" + o.Message
	}
	section := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, text, false, false),
		nil,
		nil,
	)

	details := fmt.Sprintf("Session `%s`", o.SessionID)
	if o.Duration > 0 {
		details += fmt.Sprintf(" | ran %s", o.Duration.Round(time.Second))
	}
	footer := slacklib.NewContextBlock("",
		slacklib.NewTextBlockObject(slacklib.MarkdownType, details, false, false),
	)

	return []slacklib.Block{section, footer}
}
