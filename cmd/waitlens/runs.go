package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/logflow/waitlens/pkg/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage archived runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the summary of an archived run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete an archived run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	runsShowCmd.Flags().IntVar(&topTransitions, "top", 15, "Transitions to show (0 = all)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

// openStore opens the configured run archive.
func openStore(ctx context.Context) (store.Backend, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("run archive is disabled (store.backend = none)")
	}
	return backend, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	backend, err := openStore(ctx)
	if err != nil {
		return err
	}
	entries, err := backend.List(ctx)
	if err != nil {
		return err
	}
	printer(cmd).Runs(entries)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	backend, err := openStore(ctx)
	if err != nil {
		return err
	}
	rep, err := backend.Load(ctx, args[0])
	if err != nil {
		return err
	}
	p := printer(cmd)
	p.Summary(rep, topTransitions)
	p.Diagnostics(rep, 10)
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	backend, err := openStore(ctx)
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
