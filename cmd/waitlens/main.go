// waitlens - Waiting-time decomposition for process-mining event logs.
// Splits the waiting time of every activity instance into batching,
// prioritization, contention, unavailability and extraneous causes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logflow/waitlens/pkg/config"
	"github.com/logflow/waitlens/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "waitlens",
	Short: "waitlens - Explain where waiting time in a process goes",
	Long: `waitlens reads an event log (CSV, XES, Excel or anything DuckDB can scan)
and decomposes the waiting time before every activity instance into five causes:
batching, prioritization, resource contention, resource unavailability and an
extraneous residual.

Configuration is read from /etc/waitlens/config.yaml, ~/.waitlens/config.yaml,
./.waitlens.yaml, the --config file and WAITLENS_* environment variables, in
that order.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "waitlens %s (%s)\n", version, commit)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads the layered configuration.
func loadConfig() (*config.Config, []string, error) {
	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return nil, nil, err
	}
	return m.Get(), m.GetPaths(), nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, paths, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range paths {
		fmt.Fprintf(out, "# loaded %s\n", p)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func printer(cmd *cobra.Command) *tui.Printer {
	return tui.NewPrinter(cmd.OutOrStdout())
}
