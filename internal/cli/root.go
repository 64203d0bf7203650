package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RenatoCabral2022/xrecorder/internal/client"
	"github.com/RenatoCabral2022/xrecorder/internal/config"
	"github.com/RenatoCabral2022/xrecorder/internal/version"
)

type Dependencies struct {
	Config *config.Config
	Client *client.Client
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "xrecorder",
		Short:         "Record the screen and microphone",
		Long:          "A CLI for the xrecorder daemon. Requests screen capture permission, starts and stops recordings, and lists saved files.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewStartCmd(deps))
	rootCmd.AddCommand(NewStopCmd(deps))
	rootCmd.AddCommand(NewStatusCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewGrantCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
