// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/blinklabs-io/proxyguard"
	"github.com/blinklabs-io/proxyguard/internal/config"
	"github.com/blinklabs-io/proxyguard/internal/node"
	"github.com/blinklabs-io/proxyguard/internal/version"
)

const (
	programName = "proxyguard"
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

var (
	globalFlags = struct {
		identity   string
		debug      bool
		jsonOutput bool
	}{}
	configFile string
)

// commonRun configures logging to w and the max processes
func commonRun(w io.Writer) *slog.Logger {
	// Configure logger
	logLevel := slog.LevelInfo
	addSource := false
	if globalFlags.debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(
		slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	// Configure max processes with our logger wrapper, toss undo func
	_, err := maxprocs.Set(maxprocs.Logger(slogPrintf))
	if err != nil {
		// If we hit this, something really wrong happened
		slog.Error(err.Error())
		os.Exit(1)
	}
	logger.Debug(
		"version: "+version.GetVersionString(),
		"component", programName,
	)
	return logger
}

func configFromCommand(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, errors.New("no config found in context")
	}
	return cfg, nil
}

// withProxy opens the proxy for a single command and closes it afterwards.
// Logs go to stderr so command output stays parseable
func withProxy(cmd *cobra.Command, fn func(*proxyguard.Proxy) error) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	logger := commonRun(os.Stderr)
	p, err := node.Open(cfg, logger, nil)
	if err != nil {
		return err
	}
	return errors.Join(fn(p), p.Close())
}

// identity returns the caller identity for governance commands
func identity(cmd *cobra.Command) (string, error) {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Identity == "" {
		return "", errors.New("no caller identity: use --identity or set PROXYGUARD_IDENTITY")
	}
	return cfg.Identity, nil
}

func parseID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", arg, err)
	}
	return id, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", programName, version.GetVersionString())
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Governance-controlled upgrades for a proxied implementation",
		SilenceUsage:  true,
	}

	// Global flags
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringVarP(&globalFlags.identity, "identity", "i", "", "caller identity for governance operations")
	rootCmd.PersistentFlags().
		BoolVar(&globalFlags.jsonOutput, "json", false, "output results as JSON")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// Override config with command line flags
		if globalFlags.identity != "" {
			cfg.Identity = globalFlags.identity
		}
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	// Subcommands
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(initCommand())
	rootCmd.AddCommand(proposeCommand())
	rootCmd.AddCommand(approveCommand())
	rootCmd.AddCommand(rejectCommand())
	rootCmd.AddCommand(executeCommand())
	rootCmd.AddCommand(rollbackCommand())
	rootCmd.AddCommand(migrationCommand())
	rootCmd.AddCommand(analyzeCommand())
	rootCmd.AddCommand(healthCommand())
	rootCmd.AddCommand(analyticsCommand())
	rootCmd.AddCommand(historyCommand())
	rootCmd.AddCommand(proposalCommand())
	rootCmd.AddCommand(auditCommand())
	rootCmd.AddCommand(forwardCommand())
	rootCmd.AddCommand(versionCommand())

	// Execute cobra command
	if err := rootCmd.Execute(); err != nil {
		// NOTE: we purposely don't display the error, since cobra will have already displayed it
		os.Exit(1)
	}
}
