package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/UltimateSoul/soul-ai-bot/internal/app"
	"github.com/UltimateSoul/soul-ai-bot/internal/config"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/pricing"
	"github.com/UltimateSoul/soul-ai-bot/internal/tokens"
	"github.com/UltimateSoul/soul-ai-bot/internal/version"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Telegram webhook and the health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), o, app.ModeWebhook)
		},
	}
}

func newPollCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Long-poll Telegram for updates instead of using a webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), o, app.ModePoll)
		},
	}
}

func runBot(ctx context.Context, o *rootOptions, mode app.Mode) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := config.NewConfigManager(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to create config manager: %w", err)
	}
	a, err := app.New(ctx, manager)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx, mode)
}

func newCheckConfigCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration without starting the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := config.NewConfigManager(o.configPath)
			if err != nil {
				return fmt.Errorf("failed to create config manager: %w", err)
			}
			if err := manager.Load(cmd.Context()); err != nil {
				return err
			}
			if err := manager.Validate(cmd.Context()); err != nil {
				return err
			}
			cfg := manager.Get(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid (model %s, cache %s)\n", cfg.Chat.Model, cfg.Cache.Backend)
			return nil
		},
	}
}

func newCountTokensCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "count-tokens <text>...",
		Short: "Count the prompt tokens of a message and price them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := models.ModelID(model)
			if !models.IsSupported(id) {
				return &models.UnsupportedModelError{Model: id}
			}
			msgs := []models.Message{{Role: models.RoleUser, Content: strings.Join(args, " ")}}
			n, err := tokens.NewCounter().Count(msgs, id)
			if err != nil {
				return err
			}
			dollars, err := pricing.DefaultTable.PromptPrice(id, n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model:  %s\n", id)
			fmt.Fprintf(out, "tokens: %d\n", n)
			fmt.Fprintf(out, "cost:   %s cents\n", models.FormatCents(dollars*100))
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", string(models.DefaultModel), "model whose tokenizer and prices are used")
	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the supported models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, id := range models.SupportedModels {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show soul-ai-bot build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "soul-ai-bot %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
			return nil
		},
	}
}
