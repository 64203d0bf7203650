package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/RenatoCabral2022/xrecorder/internal/output"
)

func NewStatusCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recording session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := deps.Client.Session(cmd.Context())
			if err != nil {
				return err
			}
			output.NewFormatter(os.Stdout).Status(s.State, s.Label, s.StartedAt, s.LastError)
			return nil
		},
	}
}

func NewListCmd(deps *Dependencies) *cobra.Command {
	var pending bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)

			recs, err := deps.Client.Recordings(cmd.Context(), pending, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				formatter.Info("No recordings found")
				return nil
			}

			formatter.RecordingListHeader()
			for _, r := range recs {
				formatter.RecordingListItem(r.DisplayName, r.Size, r.Pending)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "Include recordings that were never finalized")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of recordings to show")

	return cmd
}
