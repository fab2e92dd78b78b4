package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"strategos/internal/config"
	"strategos/pkg/strategos"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "strategosctl",
		Short:         "Evolve trading strategies as factor graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newResumeCmd(&configPath))
	root.AddCommand(newChampionCmd(&configPath))
	root.AddCommand(newServeCmd(&configPath))
	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(configPath *string) *cobra.Command {
	var withDashboard bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new evolutionary run from the baseline seeds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client, err := strategos.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := signalContext()
			defer cancel()

			var summary *strategos.RunSummary
			if withDashboard {
				summary, err = client.RunAndServe(ctx, nil)
			} else {
				summary, err = client.Run(ctx, nil)
			}
			if summary != nil {
				printSummary(cmd, summary)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&withDashboard, "serve", false, "serve the dashboard while the run progresses")
	return cmd
}

func newResumeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a checkpointed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client, err := strategos.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := signalContext()
			defer cancel()

			summary, err := client.Resume(ctx, args[0])
			if summary != nil {
				printSummary(cmd, summary)
			}
			return err
		},
	}
}

func newChampionCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "champion <run-id>",
		Short: "Show the persisted champion of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client, err := strategos.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			champion, ok, err := client.Champion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %s has no champion", args[0])
			}
			if asJSON {
				encoded, err := json.MarshalIndent(champion, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(encoded))
				return nil
			}
			cmd.Printf("champion %s\n", champion.Strategy.ID)
			cmd.Printf("  established generation %s, last update generation %s\n",
				humanize.Comma(int64(champion.IterationEstablished)),
				humanize.Comma(int64(champion.LastUpdateIteration)))
			cmd.Printf("  sharpe %.3f  calmar %.3f  max drawdown %.1f%%  return %.1f%%  stability %.2f\n",
				champion.Metrics.Sharpe,
				champion.Metrics.Calmar,
				champion.Metrics.MaxDrawdown*100,
				champion.Metrics.Return*100,
				champion.Metrics.Stability)
			cmd.Printf("  %s factors", humanize.Comma(int64(len(champion.Strategy.Factors))))
			if champion.Stale {
				cmd.Printf("  (stale)")
			}
			cmd.Println()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full champion record as JSON")
	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve <run-id>",
		Short: "Serve the dashboard for a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client, err := strategos.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if err := client.Serve(ctx, args[0]); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func printSummary(cmd *cobra.Command, summary *strategos.RunSummary) {
	cmd.Printf("run %s: %s generations, best sharpe %.3f, front size %d, diversity %.3f\n",
		summary.RunID,
		humanize.Comma(int64(summary.Generations)),
		summary.BestSharpe,
		summary.FrontSize,
		summary.Diversity)
	if summary.ChampionID != "" {
		cmd.Printf("champion: %s\n", summary.ChampionID)
	} else {
		cmd.Println("champion: none established")
	}
}
