package cli

import (
	"log/slog"

	"uploadflow/internal/config"
	"uploadflow/internal/logging"

	"github.com/spf13/cobra"
)

// globalOptions are shared by every command
type globalOptions struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewRootCmd() *cobra.Command {
	g := &globalOptions{cfg: config.Load()}

	cmd := &cobra.Command{
		Use:           "uploadflow",
		Short:         "Multipart upload client and reference session server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			g.logger = logging.New(logging.Config{
				Level:  g.cfg.LogLevel,
				Format: g.cfg.LogFormat,
				Output: cmd.ErrOrStderr(),
			})
		},
	}

	cmd.PersistentFlags().StringVar(&g.cfg.LogLevel, "log-level", g.cfg.LogLevel, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.cfg.LogFormat, "log-format", g.cfg.LogFormat, "Log format (text, json)")

	cmd.AddCommand(newUploadCmd(g))
	cmd.AddCommand(newServeCmd(g))
	return cmd
}

func Execute() error {
	return NewRootCmd().Execute()
}
