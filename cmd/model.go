package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/bootstrap"
)

const modelCheckTimeout = time.Minute

func newModelCommand() *cobra.Command {
	model := &cobra.Command{
		Use:   "model",
		Short: "Language-model utilities",
	}

	model.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Send a test prompt to the configured model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfig(options())
			if err != nil {
				return err
			}
			log, err := bootstrap.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cls := bootstrap.SetupClassifier(cfg.Model, nil, log)

			ctx, cancel := context.WithTimeout(cmd.Context(), modelCheckTimeout)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Provider: %s\nModel:    %s\n", cfg.Model.Provider, cfg.Model.Model)
			reply, err := cls.CheckConnection(ctx)
			if err != nil {
				return fmt.Errorf("model check failed: %w", err)
			}
			fmt.Fprintf(out, "Reply:    %s\n", reply)
			return nil
		},
	})

	return model
}
