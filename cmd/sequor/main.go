// Package main is the entry point for the sequor binary. It provides a CLI
// for running composed graphs, serving the execution API, and auditing the
// execution ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sequorlabs/sequor/pkg/audit"
	"github.com/sequorlabs/sequor/pkg/config"
	"github.com/sequorlabs/sequor/pkg/domain"
	"github.com/sequorlabs/sequor/pkg/logging"
	"github.com/sequorlabs/sequor/pkg/policy"
	"github.com/sequorlabs/sequor/pkg/runtime"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sequor",
		Short: "Governed execution core for composed operation graphs",
		Long: `Sequor executes graphs of pre-vetted operations under admission policy,
circuit breakers, retry budgets, and a hash-linked audit ledger.

Example:
  sequor run graph.yaml --input text="hello world"
  sequor serve --config sequor.yaml
  sequor verify --db audit.db`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Enable pretty console logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newPolicyCmd())
	rootCmd.AddCommand(newOpsCmd())

	return rootCmd
}

// loadConfig builds the effective configuration from the --config flag plus
// defaults and environment overrides, and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, nil, err
	}
	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if pretty {
		cfg.Logging.Pretty = true
	}

	logger := logging.Setup(cfg.Logging)
	return cfg, logger, nil
}

// buildCore assembles registry, policy engine, audit chain, and executor
// from the configuration. The returned cleanup closes the audit store.
func buildCore(cfg *config.Config, logger *slog.Logger, opts ...runtime.ExecutorOption) (*runtime.GraphExecutor, *audit.Chain, func(), error) {
	registry := runtime.NewRegistry()
	if err := runtime.RegisterBuiltins(registry); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to register operations: %w", err)
	}

	engine := policy.NewEngine(cfg.Policy)

	chainOpts := []audit.ChainOption{}
	cleanup := func() {}
	if cfg.Audit.DatabasePath != "" {
		store, err := audit.OpenSQLite(cfg.Audit.DatabasePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		chainOpts = append(chainOpts, audit.WithStore(store))
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close audit store", "error", err)
			}
		}
	}
	chain := audit.NewChain(cfg.Audit.AgentID, chainOpts...)

	execCfg := runtime.ExecutorConfig{
		Retry:          cfg.Executor.RetryConfig(),
		CircuitBreaker: cfg.Executor.BreakerConfig(),
		RunTimeout:     cfg.Executor.RunTimeoutDuration(),
		FailFast:       cfg.Executor.FailFast,
	}
	opts = append([]runtime.ExecutorOption{
		runtime.WithPolicyEngine(engine),
		runtime.WithAuditChain(chain),
		runtime.WithLogger(logger),
	}, opts...)

	executor := runtime.NewGraphExecutor(registry, execCfg, opts...)
	return executor, chain, cleanup, nil
}

func newRunCmd() *cobra.Command {
	var inputs []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Execute a composed graph and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			graph, initialInputs, err := config.LoadGraph(args[0])
			if err != nil {
				return err
			}
			if initialInputs == nil {
				initialInputs = map[string]any{}
			}
			for _, kv := range inputs {
				name, value, err := splitInput(kv)
				if err != nil {
					return err
				}
				initialInputs[name] = value
			}

			executor, chain, cleanup, err := buildCore(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Executor.RunTimeoutDuration()+time.Second)
			defer cancel()

			result, execErr := executor.Execute(ctx, graph, initialInputs)

			if asJSON {
				data, err := result.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			} else {
				fmt.Println(result.Summary())
			}

			if !chain.VerifyChain() {
				logger.Error("audit chain failed verification after run")
			}
			if execErr != nil {
				return execErr
			}
			if !result.IsSuccess() && !result.IsPartial() {
				return fmt.Errorf("run finished with status %s", result.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Initial input as name=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func splitInput(kv string) (string, string, error) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			if i == 0 {
				break
			}
			return kv[:i], kv[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid --input %q, expected name=value", kv)
}

func newVerifyCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of a persisted audit ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.Audit.DatabasePath
			}
			if dbPath == "" {
				return fmt.Errorf("no audit database: pass --db or set audit.database_path")
			}

			store, err := audit.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			agents, err := store.Agents()
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Println("ledger is empty")
				return nil
			}

			tampered := 0
			for _, agent := range agents {
				entries, err := store.Load(agent)
				if err != nil {
					return err
				}
				if audit.VerifyEntries(entries) {
					fmt.Printf("%s: ok (%d entries)\n", agent, len(entries))
				} else {
					fmt.Printf("%s: INTEGRITY FAILURE (%d entries)\n", agent, len(entries))
					tampered++
				}
			}
			if tampered > 0 {
				return fmt.Errorf("%w: %d agent ledger(s) failed verification", domain.ErrChainIntegrity, tampered)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the audit SQLite database")
	return cmd
}

func newPolicyCmd() *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test admission policy",
	}

	var tier string
	checkCmd := &cobra.Command{
		Use:   "check <operation>",
		Short: "Test whether an operation would be admitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			engine := policy.NewEngine(cfg.Policy)
			allowed, reason := engine.Check(args[0], nil, domain.Tier(tier))
			if allowed {
				fmt.Printf("%s: allowed\n", args[0])
				return nil
			}
			fmt.Printf("%s: denied (%s)\n", args[0], reason)
			return fmt.Errorf("%w: %s", domain.ErrAdmissionDenied, reason)
		},
	}
	checkCmd.Flags().StringVar(&tier, "tier", string(domain.TierA), "Operation tier to check against")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective admission policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg.Policy, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	policyCmd.AddCommand(checkCmd)
	policyCmd.AddCommand(showCmd)
	return policyCmd
}

func newOpsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the compiled operations available to graphs",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := runtime.NewRegistry()
			if err := runtime.RegisterBuiltins(registry); err != nil {
				return err
			}
			for _, d := range registry.Descriptors() {
				required := d.RequiredParameters()
				fmt.Printf("%-18s tier=%s id=%s params=%v\n", d.Name, d.Tier, d.Identity, required)
			}
			return nil
		},
	}
}
