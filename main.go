// Command relaybot relays chat events to a generative AI backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Chat relay bot backed by Gemini, OpenAI or Claude",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("RELAYBOT_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.json"
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to the JSON or YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCommandsCmd())
	root.AddCommand(newAllowCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
