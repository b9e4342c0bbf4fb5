package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"zentry-anomalies/internal/app"
	"zentry-anomalies/internal/config"
	"zentry-anomalies/internal/logging"
	"zentry-anomalies/internal/ports"
)

var (
	flagFrom     string
	flagTo       string
	flagEntities string
)

func main() {
	root := &cobra.Command{
		Use:           "zentry-anomalies",
		Short:         "Fuzzy-cluster anomaly classification for Zentry/CEDENAR grid telemetry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagFrom, "from", "", "window start (RFC3339), defaults to 24h ago")
	root.PersistentFlags().StringVar(&flagTo, "to", "", "window end (RFC3339), defaults to now")
	root.PersistentFlags().StringVar(&flagEntities, "entities", "", "comma-separated entity ids (default: all)")

	root.AddCommand(trainCmd(), inferCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Fit a fuzzy-cluster model on the selected dataset window",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, sel, err := setup(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.RunTraining(cmd.Context(), sel)
			if err != nil {
				return err
			}
			fmt.Printf("model %s: %d vectors, %d iterations, converged=%t, skipped entities=%d\n",
				summary.ModelVersion, summary.Vectors, summary.Iterations,
				summary.Converged, summary.SkippedEntities)
			return nil
		},
	}
}

func inferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infer",
		Short: "Score the selected dataset window against the latest model",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, sel, err := setup(cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.RunInference(cmd.Context(), sel)
			if err != nil {
				return err
			}
			fmt.Printf("model %s: %d verdicts (%d anomalous), %d persisted, skipped entities=%d\n",
				summary.ModelVersion, summary.Verdicts, summary.Anomalies,
				summary.Persisted, summary.SkippedEntities)
			return nil
		},
	}
}

func setup(cmd *cobra.Command) (*app.Application, ports.Selector, error) {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	sel, err := buildSelector()
	if err != nil {
		return nil, ports.Selector{}, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	cmd.SetContext(ctx)
	cobra.OnFinalize(stop)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, ports.Selector{}, err
	}
	return application, sel, nil
}

func buildSelector() (ports.Selector, error) {
	now := time.Now().UTC()
	sel := ports.Selector{From: now.Add(-24 * time.Hour), To: now}

	if flagFrom != "" {
		from, err := time.Parse(time.RFC3339, flagFrom)
		if err != nil {
			return ports.Selector{}, fmt.Errorf("parse --from: %w", err)
		}
		sel.From = from
	}
	if flagTo != "" {
		to, err := time.Parse(time.RFC3339, flagTo)
		if err != nil {
			return ports.Selector{}, fmt.Errorf("parse --to: %w", err)
		}
		sel.To = to
	}
	if flagEntities != "" {
		for _, id := range strings.Split(flagEntities, ",") {
			if id = strings.TrimSpace(id); id != "" {
				sel.EntityIDs = append(sel.EntityIDs, id)
			}
		}
	}
	return sel, nil
}
