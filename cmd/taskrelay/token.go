package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gosuda/taskrelay/internal/auth"
	"github.com/gosuda/taskrelay/internal/server/middleware"
)

var (
	flagSubject string
	flagRole    string
	flagTTL     time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&flagSubject, "subject", "", "token subject, e.g. a user or CI job name")
	tokenCmd.Flags().StringVar(&flagRole, "role", middleware.RoleViewer, "role claim: operator or viewer")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed access token using TASKRELAY_JWT_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret := os.Getenv("TASKRELAY_JWT_SECRET")
		if secret == "" {
			return errors.New("TASKRELAY_JWT_SECRET is not set")
		}
		switch flagRole {
		case middleware.RoleOperator, middleware.RoleViewer:
		default:
			return fmt.Errorf("--role must be %q or %q, got %q", middleware.RoleOperator, middleware.RoleViewer, flagRole)
		}
		if flagTTL <= 0 {
			return fmt.Errorf("--ttl must be positive, got %s", flagTTL)
		}

		tok, err := auth.IssueToken(secret, flagSubject, flagRole, flagTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
