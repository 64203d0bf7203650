package cli

import (
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/RenatoCabral2022/xrecorder/internal/config"
	"github.com/RenatoCabral2022/xrecorder/internal/output"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(os.Stdout)
			cfg := deps.Config
			ok := true

			if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
				f.SetupCheck("ffmpeg", false, "not found. Install ffmpeg or set XRECORDER_FFMPEG_PATH")
				ok = false
			} else {
				f.SetupCheck("ffmpeg", true, "installed")
			}

			if cfg.CaptureBackend == config.BackendX11 {
				if _, err := exec.LookPath("xdpyinfo"); err != nil {
					f.SetupCheck("xdpyinfo", false, "not found; the fallback geometry will be used")
				} else {
					f.SetupCheck("xdpyinfo", true, "installed")
				}
				if cfg.X11Display == "" {
					f.SetupCheck("X display", false, "not set. Export DISPLAY or set XRECORDER_X11_DISPLAY")
					ok = false
				} else {
					f.SetupCheck("X display", true, cfg.X11Display)
				}
			} else {
				f.SetupCheck("Capture backend", true, cfg.CaptureBackend)
			}

			if cfg.AudioFormat == "" {
				f.SetupCheck("Microphone", true, "disabled")
			} else {
				f.SetupCheck("Microphone", true, cfg.AudioFormat+":"+cfg.AudioInput)
			}

			if _, err := deps.Client.Session(cmd.Context()); err != nil {
				f.SetupCheck("Daemon", false, err.Error())
				ok = false
			} else {
				f.SetupCheck("Daemon", true, cfg.ServerURL)
			}

			f.SetupCheck("Recordings directory", true, cfg.MediaRoot)

			if ok {
				f.Success("\nAll prerequisites met. Ready to record!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}
