package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/RenatoCabral2022/xrecorder/internal/output"
)

func NewGrantCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Manage screen capture grants",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "request",
		Short: "Open a consent request",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := deps.Client.RequestGrant(cmd.Context())
			if err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).GrantRequested(g.Token)
			return nil
		},
	})

	var deny bool
	resolve := &cobra.Command{
		Use:   "resolve TOKEN",
		Short: "Approve or deny a consent request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deps.Client.ResolveGrant(cmd.Context(), args[0], !deny)
			if err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).GrantState(st.Token, st.State)
			return nil
		},
	}
	resolve.Flags().BoolVar(&deny, "deny", false, "Deny instead of approve")
	cmd.AddCommand(resolve)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke TOKEN",
		Short: "Withdraw screen capture permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.Client.RevokeGrant(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).GrantState(args[0], "revoked")
			return nil
		},
	})

	return cmd
}
