package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/botparty/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile     string
	secretsFile string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "botparty",
	Short: "BotParty: a fleet of chat bots behind one LLM app",
	Long:  "BotParty runs several chat bots side by side in one process. Each bot listens on Slack, Discord or Telegram, answers mentions through an LLM chat app, and can relay alerts from a polled webhook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFleet(cmd.Context(), runOptions{})
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "bot definitions file (default: bot_definitions/all.json or $BOTPARTY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&secretsFile, "secrets", "", "secrets file (default: secrets.json or $BOTPARTY_SECRETS)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("botparty %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("BOTPARTY_CONFIG"); v != "" {
		return v
	}
	return "bot_definitions/all.json"
}

func resolveSecretsPath() string {
	if secretsFile != "" {
		return secretsFile
	}
	if v := os.Getenv("BOTPARTY_SECRETS"); v != "" {
		return v
	}
	return "secrets.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
