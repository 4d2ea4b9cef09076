// Package cli implements dialerctl, the operator command line for the call queue.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/app"
	"github.com/acme/outbound-call-queue/internal/metrics"
)

type commandContext struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type state struct {
	cfgFile   string
	pushURL   string
	container *app.Container
	info      commandContext
}

// NewRootCommand assembles dialerctl and its subcommands.
func NewRootCommand() *cobra.Command {
	s := &state{}

	root := &cobra.Command{
		Use:   "dialerctl",
		Short: "Operate the outbound call queue",
		Long: `dialerctl runs one-shot queue operations against the configured store.

Examples:
  dialerctl counts
  dialerctl process --limit 20
  dialerctl retry --max-attempts 3
  dialerctl launch 5b0f... --contact 1c2d... --contact 9e8f...`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			container, err := app.Build(cmd.Context(), s.cfgFile, "dialerctl")
			if err != nil {
				return err
			}
			s.container = container
			s.info = commandContext{correlationID: uuid.New(), startedAt: time.Now()}
			container.Logger.Debug("command start",
				zap.String("command", cmd.CommandPath()),
				zap.String("correlation_id", s.info.correlationID.String()),
			)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return s.finish(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&s.cfgFile, "config", "c", envOr("CONFIG_FILE", "configs/config.yaml"), "config file path")
	root.PersistentFlags().StringVar(&s.pushURL, "push-url", "", "Pushgateway URL to push metrics to after the command")

	root.AddCommand(
		newProcessCommand(s),
		newRetryCommand(s),
		newStatusCommand(s),
		newCountsCommand(s),
		newLaunchCommand(s),
	)
	return root
}

// Execute runs dialerctl with the process arguments.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (s *state) finish(cmd *cobra.Command) error {
	if s.container == nil {
		return nil
	}
	defer func() {
		_ = s.container.Close(context.Background())
		s.container = nil
	}()

	s.container.Logger.Debug("command end",
		zap.String("command", cmd.CommandPath()),
		zap.String("correlation_id", s.info.correlationID.String()),
		zap.Int64("duration_ms", time.Since(s.info.startedAt).Milliseconds()),
	)

	if s.pushURL == "" {
		return nil
	}
	if err := push.New(s.pushURL, "dialerctl").Gatherer(metrics.Registry).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
