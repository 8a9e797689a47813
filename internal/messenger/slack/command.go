package slack

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/gosuda/taskrelay/internal/automation"
)

// CommandAction represents the type of parsed command.
type CommandAction string

const (
	CommandActionRun     CommandAction = "run"
	CommandActionStatus  CommandAction = "status"
	CommandActionList    CommandAction = "list"
	CommandActionHelp    CommandAction = "help"
	CommandActionUnknown CommandAction = "unknown"
)

// Command is a parsed slash command.
type Command struct {
	Action    CommandAction
	TaskType  string            // run
	Params    automation.Params // run
	SessionID uuid.UUID         // status
	Raw       string
}

// ParseCommand parses the text of a /taskrelay slash command:
//
//	run <automation> <cdp-url> [firm name | {form json}]
//	status <session-id>
//	list
//	help
func ParseCommand(text string) Command {
	cmd := Command{Action: CommandActionUnknown, Raw: text}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		cmd.Action = CommandActionHelp
		return cmd
	}

	switch strings.ToLower(fields[0]) {
	case "help":
		cmd.Action = CommandActionHelp
	case "list":
		cmd.Action = CommandActionList
	case "status":
		if len(fields) != 2 {
			return cmd
		}
		id, err := uuid.Parse(fields[1])
		if err != nil {
			return cmd
		}
		cmd.Action = CommandActionStatus
		cmd.SessionID = id
	case "run":
		if len(fields) < 3 {
			return cmd
		}
		cmd.Action = CommandActionRun
		cmd.TaskType = fields[1]
		cmd.Params.CDPURL = fields[2]

		// The rest keeps its original spacing: firm names and JSON both need it.
		rest := strings.TrimSpace(afterFields(text, 3))
		switch {
		case rest == "":
		case strings.HasPrefix(rest, "{") && json.Valid([]byte(rest)):
			cmd.Params.FormData = json.RawMessage(rest)
		default:
			cmd.Params.SelectedFirm = rest
		}
	}

	return cmd
}

// afterFields returns text with its first n whitespace-separated fields removed.
func afterFields(text string, n int) string {
	s := strings.TrimSpace(text)
	for range n {
		i := strings.IndexFunc(s, isSpace)
		if i < 0 {
			return ""
		}
		s = strings.TrimLeftFunc(s[i:], isSpace)
	}
	return s
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

const helpText = "Usage:\n" +
	"• `/taskrelay run <automation> <cdp-url> [firm | {form json}]` start an automation\n" +
	"• `/taskrelay status <session-id>` show a session\n" +
	"• `/taskrelay list` list automations"
