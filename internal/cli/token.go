package cli

import (
	"fmt"

	"ledger-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCmd(rc *RootConfig) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("user id: %w", err)
			}
			switch role {
			case ports.RoleUser, ports.RoleAdmin:
			default:
				return fmt.Errorf("role must be %q or %q", ports.RoleUser, ports.RoleAdmin)
			}

			engine, err := openApp(cmd.Context(), rc)
			if err != nil {
				return err
			}
			defer engine.Close()

			token, exp, err := engine.Tokens.Generate(userID, role)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", ports.RoleUser, "token role (user or admin)")
	return cmd
}
