package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "codexrelay",
	Short: "Telegram gateway for the codex CLI agent",
	Long: `codexrelay bridges Telegram conversations to the codex CLI agent.
Mentioning the bot in a group triages the recent chat log; uploaded archives
are unpacked into a per-conversation sandbox and handed to the agent.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the status HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default config.toml, or CONFIG_PATH)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
