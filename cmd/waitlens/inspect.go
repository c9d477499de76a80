package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/logflow/waitlens/pkg/eventlog"
	"github.com/logflow/waitlens/pkg/inspect"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <log>",
	Short: "Profile an event log without analyzing it",
	Long: `Load an event log with the configured column mapping and report what the
decomposition will see: rejected rows, case and activity counts, start
timestamp coverage and data issues.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Input format (csv, xes, xlsx, duckdb) - auto-detected if not specified")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the profile as JSON")

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	loaderCfg := cfg.LoaderConfig()
	eventLog, load, err := eventlog.Load(ctx, args[0], loaderCfg)
	if err != nil {
		return err
	}
	profile := inspect.Profile(eventLog)

	if inspectJSON {
		data, err := profile.ToJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	p := printer(cmd)
	p.Header(version)
	p.LoadReport(load)
	c := loaderCfg.Columns
	fmt.Fprintf(cmd.OutOrStdout(), "  Columns: case=%q activity=%q resource=%q start=%q end=%q\n",
		c.Case, c.Activity, c.Resource, c.Start, c.End)
	p.Profile(profile)
	return nil
}
