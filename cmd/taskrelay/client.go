package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/taskrelay/internal/automation"
	"github.com/gosuda/taskrelay/internal/client"
	"github.com/gosuda/taskrelay/internal/domain"
)

var (
	flagServer   string
	flagToken    string
	flagAPIKey   string
	flagCDPURL   string
	flagFormData string
	flagFirm     string
	flagDetach   bool
)

func init() {
	for _, c := range []*cobra.Command{runCmd, tailCmd} {
		c.Flags().StringVar(&flagServer, "server", envOr("TASKRELAY_URL", "http://localhost:8080"), "taskrelay server base URL")
		c.Flags().StringVar(&flagToken, "token", os.Getenv("TASKRELAY_TOKEN"), "bearer token")
		c.Flags().StringVar(&flagAPIKey, "api-key", os.Getenv("TASKRELAY_API_KEY"), "API key")
	}

	runCmd.Flags().StringVar(&flagCDPURL, "cdp-url", "", "Chrome DevTools endpoint the worker attaches to")
	runCmd.Flags().StringVar(&flagFormData, "form-data", "", "JSON object passed to form-filling automations")
	runCmd.Flags().StringVar(&flagFirm, "firm", "", "selected firm for the Lawmatics automation")
	runCmd.Flags().BoolVar(&flagDetach, "detach", false, "print the session id and exit without following logs")
}

var runCmd = &cobra.Command{
	Use:   "run <automation>",
	Short: "Trigger an automation and follow its log until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var tailCmd = &cobra.Command{
	Use:   "tail <session-id>",
	Short: "Follow the log of an existing session",
	Args:  cobra.ExactArgs(1),
	RunE:  doTail,
}

func newClient() *client.Client {
	var opts []client.Option
	if flagToken != "" {
		opts = append(opts, client.WithToken(flagToken))
	}
	if flagAPIKey != "" {
		opts = append(opts, client.WithAPIKey(flagAPIKey))
	}
	return client.New(flagServer, opts...)
}

func doRun(cmd *cobra.Command, args []string) error {
	params := automation.Params{
		CDPURL:       flagCDPURL,
		SelectedFirm: flagFirm,
	}
	if flagFormData != "" {
		if !json.Valid([]byte(flagFormData)) {
			return errors.New("--form-data is not valid JSON")
		}
		params.FormData = json.RawMessage(flagFormData)
	}

	c := newClient()
	id, err := c.Trigger(cmd.Context(), args[0], params)
	if err != nil {
		return err
	}

	if flagDetach {
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}
	log.Info().Str("session_id", id.String()).Str("automation", args[0]).Msg("automation started")

	return follow(cmd, c, id)
}

func doTail(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}
	return follow(cmd, newClient(), id)
}

func follow(cmd *cobra.Command, c *client.Client, id uuid.UUID) error {
	out := cmd.OutOrStdout()
	return c.Follow(cmd.Context(), id, func(rec domain.LogRecord) error {
		printRecord(out, rec)
		return nil
	})
}

func printRecord(w io.Writer, rec domain.LogRecord) {
	fmt.Fprintf(w, "%s %-7s %s\n", rec.Timestamp.Local().Format(time.TimeOnly), rec.Level, rec.Message)
}
