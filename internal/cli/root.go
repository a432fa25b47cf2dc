// Package cli implements the soul-ai-bot command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/UltimateSoul/soul-ai-bot/internal/config"
	"github.com/UltimateSoul/soul-ai-bot/internal/version"
)

type rootOptions struct {
	configPath string
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(out, errOut)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "soul-ai-bot",
		Short:         "Telegram chat bot backed by OpenAI chat completions",
		Long:          "soul-ai-bot answers Telegram chats with OpenAI models, keeping per-chat context and charging each user's prepaid balance for the tokens they use.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&o.configPath, "config", config.DefaultConfigPath, "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(o),
		newPollCmd(o),
		newCheckConfigCmd(o),
		newCountTokensCmd(),
		newModelsCmd(),
		newVersionCmd(),
	)
	cmd.SetVersionTemplate(fmt.Sprintf("soul-ai-bot {{.Version}} (commit %s, built %s)\n", version.Commit, version.BuildDate))
	return cmd
}
