package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"solagent/internal/agent"
	"solagent/internal/api"
	"solagent/internal/observability/metrics"
	"solagent/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "solagentd:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "solagentd",
		Short:         "Solana agent daemon: dispatches tasks to completion backends and on-chain capabilities",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (defaults to $SOLAGENT_CONFIG or configs/solagent.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the task workers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath)
			},
		},
		newExecCommand(&configPath),
		newCapabilitiesCommand(&configPath),
	)
	return root
}

func newExecCommand(configPath *string) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "exec <task>",
		Short: "Run one task synchronously and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := json.RawMessage(input)
			if input != "" && !json.Valid(raw) {
				return errors.New("--input must be valid JSON")
			}
			app, err := build(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.agent.Execute(cmd.Context(), agent.TaskRequest{Task: args[0], Input: raw})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "task input as a JSON document")
	return cmd
}

func newCapabilitiesCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List registered capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := build(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			for _, desc := range app.agent.Capabilities() {
				fmt.Fprintf(out, "%-28s %-8s backend=%s aliases=%v\n", desc.Name, desc.Version, desc.Backend, desc.Aliases)
			}
			return nil
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	app, err := build(ctx, configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	server := api.NewServer(app.cfg.Server.Address, app.agent, app.tasks,
		api.WithChains(app.chains),
		api.WithAuth(app.auth),
		api.WithShutdownTimeout(app.cfg.Server.ShutdownTimeout()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		return app.processor.Start(gctx)
	})
	if addr := app.cfg.Server.MetricsAddress; addr != "" {
		g.Go(func() error {
			return metrics.StartServer(gctx, addr)
		})
	}

	logger.L().Info("solagentd started",
		"address", app.cfg.Server.Address,
		"queue", app.cfg.TaskQueue.Driver,
		"capabilities", app.capabilityCount,
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("solagentd stopped")
	return nil
}
