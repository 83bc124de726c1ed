package cmd

import (
	"os"

	"TalkingAvatar-server/config"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "talking-avatar",
	Short: "Talking avatar generation server",
	Long: `Generates speech audio and talking-avatar videos for projects by
orchestrating external TTS and avatar animation providers.

Examples:
  talking-avatar serve                     # HTTP API (+ embedded queue worker)
  talking-avatar worker                    # standalone queue worker
  talking-avatar migrate --config prod.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "config file path")
}

// Execute 入口，由 main 调用
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
