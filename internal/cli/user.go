package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sre-platform/internal/auth"
	"sre-platform/internal/models"
)

func newUserCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage console accounts",
	}
	cmd.AddCommand(newUserCreateCmd(opts), newUserListCmd(opts))
	return cmd
}

func newUserCreateCmd(opts *options) *cobra.Command {
	var username, password, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a console account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := models.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid role %q (admin, sre or viewer)", role)
			}
			if len(password) < 8 {
				return auth.ErrWeakPassword
			}
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			u, err := st.CreateUser(cmd.Context(), username, password, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s, %s)\n", u.ID, u.Username, u.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "initial password, at least 8 characters")
	cmd.Flags().StringVar(&role, "role", string(models.RoleViewer), "admin, sre or viewer")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List console accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			users, err := st.GetUsers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\t2FA\tCREATED")
			for _, u := range users {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", u.ID, u.Username, u.Role, u.TOTPEnabled, models.FormatTime(u.CreatedAt))
			}
			return tw.Flush()
		},
	}
}
