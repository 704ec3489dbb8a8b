// Package cmd implements the opportunity-finder command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/bootstrap"
)

var (
	cfgFile string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "opportunity-finder",
		Short: "Find product opportunities in public discussion",
		Long: `opportunity-finder collects posts from community sources, extracts pain points with a
language model, and promotes recurring problems to scored opportunities.`,
		SilenceUsage:      true,
		PersistentPreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config.yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCommand(),
		newScanCommand(),
		newScoreCommand(),
		newSourcesCommand(),
		newMigrateCommand(),
		newModelCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "opportunity-finder version %s\n", version)
			},
		},
	)
}

// version is overridden at build time with -ldflags.
var version = "dev"

func bindFlags(cmd *cobra.Command, _ []string) error {
	flags := cmd.Root().PersistentFlags()
	if err := viper.BindPFlag("config", flags.Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	if err := viper.BindPFlag("debug", flags.Lookup("debug")); err != nil {
		return fmt.Errorf("bind debug flag: %w", err)
	}
	if err := viper.BindEnv("config", "CONFIG_PATH"); err != nil {
		return fmt.Errorf("bind CONFIG_PATH: %w", err)
	}
	if err := viper.BindEnv("debug", "APP_DEBUG"); err != nil {
		return fmt.Errorf("bind APP_DEBUG: %w", err)
	}
	return nil
}

func options() bootstrap.Options {
	return bootstrap.Options{
		ConfigPath: viper.GetString("config"),
		Debug:      viper.GetBool("debug"),
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
