package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/taskrelay/internal/automation"
	"github.com/gosuda/taskrelay/internal/domain"
)

const maxCommandBody = 64 << 10

// Automations is the orchestrator surface slash commands drive.
type Automations interface {
	Trigger(ctx context.Context, taskType string, params automation.Params) (uuid.UUID, error)
	Session(id uuid.UUID) (domain.SessionInfo, error)
	Available() []automation.TaskDefinition
}

// Handler serves Slack slash commands for POST /slack/commands.
type Handler struct {
	signingSecret string
	automations   Automations
}

func NewHandler(signingSecret string, automations Automations) *Handler {
	return &Handler{
		signingSecret: signingSecret,
		automations:   automations,
	}
}

// ServeHTTP verifies the request signature, runs the command and replies
// with an ephemeral message. Command failures are reported in the reply with
// status 200, as Slack shows non-2xx answers as a generic error.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if verifyErr := h.verifySignature(r.Header, body); verifyErr != nil {
		log.Warn().Err(verifyErr).Msg("slack: rejected command")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	// SlashCommandParse reads the form from the body, which was consumed above.
	r.Body = io.NopCloser(bytes.NewReader(body))
	sc, err := slacklib.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "invalid command payload", http.StatusBadRequest)
		return
	}

	reply := h.execute(r.Context(), sc.UserID, ParseCommand(sc.Text))

	w.Header().Set("Content-Type", "application/json")
	msg := slacklib.Msg{ResponseType: slacklib.ResponseTypeEphemeral, Text: reply}
	if encodeErr := json.NewEncoder(w).Encode(&msg); encodeErr != nil {
		log.Error().Err(encodeErr).Msg("slack: encode command response")
	}
}

func (h *Handler) execute(ctx context.Context, userID string, cmd Command) string {
	switch cmd.Action {
	case CommandActionRun:
		id, err := h.automations.Trigger(ctx, cmd.TaskType, cmd.Params)
		if err != nil {
			return triggerErrorText(cmd.TaskType, err)
		}
		log.Info().Str("session_id", id.String()).Str("task_type", cmd.TaskType).Str("slack_user", userID).Msg("slack: automation started")
		return fmt.Sprintf("Started `%s`, session `%s`", cmd.TaskType, id)

	case CommandActionStatus:
		info, err := h.automations.Session(cmd.SessionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Sprintf("Session `%s` not found. Sessions are removed shortly after they finish.", cmd.SessionID)
			}
			return "Could not read session: " + err.Error()
		}
		return statusText(info)

	case CommandActionList:
		var b strings.Builder
		b.WriteString("Automations:")
		for _, def := range h.automations.Available() {
			fmt.Fprintf(&b, "\n• `%s` %s", def.Name, def.Description)
		}
		return b.String()

	case CommandActionHelp:
		return helpText

	default:
		return "Unrecognized command.\n" + helpText
	}
}

func triggerErrorText(taskType string, err error) string {
	var verr *automation.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, automation.ErrUnknownTask):
		return fmt.Sprintf("Unknown automation `%s`. Try `/taskrelay list`.", taskType)
	case errors.Is(err, domain.ErrUnavailable):
		return "That automation is not available on this server."
	default:
		log.Error().Err(err).Str("task_type", taskType).Msg("slack: trigger failed")
		return "Failed to start automation."
	}
}

func statusText(info domain.SessionInfo) string {
	text := fmt.Sprintf("`%s` session `%s` is %s, %d records", info.TaskType, info.ID, info.State, info.Records)
	if info.TerminalAt != nil {
		text += fmt.Sprintf(", finished after %s", info.TerminalAt.Sub(info.CreatedAt).Round(time.Second))
	}
	return text
}

// verifySignature validates the Slack request signature using the signing secret.
func (h *Handler) verifySignature(header http.Header, body []byte) error {
	sv, err := slacklib.NewSecretsVerifier(header, h.signingSecret)
	if err != nil {
		return fmt.Errorf("slack.Handler.verifySignature: create verifier: %w", err)
	}

	if _, writeErr := sv.Write(body); writeErr != nil {
		return fmt.Errorf("slack.Handler.verifySignature: write body: %w", writeErr)
	}

	if ensureErr := sv.Ensure(); ensureErr != nil {
		return fmt.Errorf("slack.Handler.verifySignature: ensure: %w", ensureErr)
	}

	return nil
}
