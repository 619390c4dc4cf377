// Package main is the analyzehub command: it serves the analysis state to
// views and runs one-shot analyses from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"analyzehub/internal/analyzer"
	"analyzehub/internal/config"
	"analyzehub/internal/gate"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{logLevel: "info"}
	cmd := &cobra.Command{
		Use:           "analyzehub",
		Short:         "Gate, retry and share remote analysis requests",
		Long:          "analyzehub submits analysis requests to a remote backend with debounce, retry and rate limit cooldown, and shares the result with every connected view.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config.json (defaults to the data directory)")
	cmd.PersistentFlags().StringVar(&opts.backendURL, "backend-url", "", "Analysis backend base URL (overrides "+config.EnvBackendURL+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logDir, "log-dir", "", "Write logs to a daily file in this directory instead of stdout")
	cmd.PersistentFlags().BoolVar(&opts.noHistory, "no-history", false, "Do not record finished analyses in the history database")

	serveCmd := newServeCommand(opts)
	analyzeCmd := newAnalyzeCommand(opts)
	historyCmd := newHistoryCommand(opts)
	cmd.AddCommand(serveCmd, analyzeCmd, historyCmd)
	cmd.Example = `  # Serve views on the default port against a local backend
  analyzehub serve

  # Point at another backend and port
  BACKEND_URL=https://analyzer.example.com analyzehub serve --port 8080

  # Analyze one user from the terminal
  analyzehub analyze octocat`
	bindViper(cmd, serveCmd, analyzeCmd, historyCmd)
	return cmd
}

// bindViper lets every flag be set from ANALYZEHUB_* variables or an optional
// config file named by ANALYZEHUB_CONFIG. Flags given on the command line win.
func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("ANALYZEHUB")
	v.AutomaticEnv()
	configFile := os.Getenv("ANALYZEHUB_CONFIG")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if configFile != "" {
			if err := v.ReadInConfig(); err != nil {
				cobra.CheckErr(err)
			}
		}
		for _, cmd := range commands {
			flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()}
			for _, fs := range flagSets {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed {
						return
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := fmt.Sprintf("%v", v.Get(f.Name))
					if val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) || errors.Is(err, errAnalysisFailed) {
		return
	}
	message := err.Error()
	var statusErr *analyzer.StatusError
	switch {
	case errors.Is(err, context.Canceled):
		message = "interrupted"
	case errors.Is(err, gate.ErrCoolingDown):
		message = fmt.Sprintf("%s\nHint: the backend rate limited a previous request; wait for the cooldown to end.", err)
	case errors.As(err, &statusErr):
		message = fmt.Sprintf("%s\nHint: check --backend-url or %s.", err, config.EnvBackendURL)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
