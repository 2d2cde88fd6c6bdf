package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/dispatch/pkg/config"
	"github.com/zen-systems/dispatch/pkg/modelclient"
	"github.com/zen-systems/dispatch/pkg/pipeline"
	"github.com/zen-systems/dispatch/pkg/provider"
	"github.com/zen-systems/dispatch/pkg/workorder"
)

var verboseFlag bool

// errRunFailed signals a failed outcome already reported to the user. It
// must propagate as an error (not os.Exit) so deferred cleanup, the zap
// flush included, still runs.
var errRunFailed = errors.New("run failed")

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch work orders to AI coding agents",
		Long: `Dispatch runs a work order through a two-stage pipeline: a builder
	backend makes the code change, then a reviewer pass checks the result
	against the work order and renders a verdict.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(providersCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var providerFlag string
	var modelFlag string
	var cliPathFlag string
	var repoFlag string
	var evidenceFlag string
	var buildTimeout time.Duration
	var reviewTimeout time.Duration
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "run [work-order.yaml]",
		Short: "Execute a work order",
		Long: `Loads a work order from YAML, dispatches it to the selected backend,
	and prints the terminal outcome. The builder runs at most once; a failed
	run is reported, never retried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wo, err := workorder.Load(args[0])
			if err != nil {
				return err
			}
			if repoFlag != "" {
				wo.RepoPath = repoFlag
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			settings := workorder.ProviderSettings{
				Provider: providerFlag,
				Model:    modelFlag,
				CLIPath:  cliPathFlag,
			}
			if settings.Provider == "" {
				settings.Provider = cfg.DefaultProvider
			}
			if settings.Model == "" {
				settings.Model = cfg.DefaultModel
			}
			if settings.CLIPath == "" {
				settings.CLIPath = cfg.CLIPath(settings.Provider)
			}

			opts := pipeline.Options{
				BuildTimeout:  buildTimeout,
				ReviewTimeout: reviewTimeout,
				EvidenceDir:   evidenceFlag,
				Logger:        log,
			}
			if opts.BuildTimeout == 0 {
				opts.BuildTimeout = cfg.BuildTimeout
			}
			if opts.ReviewTimeout == 0 {
				opts.ReviewTimeout = cfg.ReviewTimeout
			}
			if opts.EvidenceDir == "" {
				opts.EvidenceDir = cfg.EvidenceDir
			}

			orchestrator := pipeline.New(createRegistry(cfg, log), opts)

			outcome, err := orchestrator.Execute(cmd.Context(), wo, settings)
			if err != nil {
				return err
			}

			if jsonFlag {
				data, err := json.MarshalIndent(outcome, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			} else {
				printOutcome(outcome)
			}

			if outcome.Failed() {
				cmd.SilenceErrors = true
				cmd.SilenceUsage = true
				return errRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&providerFlag, "provider", "", "backend to dispatch to (claude, codex, gemini, anthropic, openai, google)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "model override for the backend")
	cmd.Flags().StringVar(&cliPathFlag, "cli-path", "", "path to the agent CLI binary")
	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository path override")
	cmd.Flags().StringVar(&evidenceFlag, "evidence-dir", "", "run journal base directory")
	cmd.Flags().DurationVar(&buildTimeout, "build-timeout", 0, "builder stage deadline (default 20m)")
	cmd.Flags().DurationVar(&reviewTimeout, "review-timeout", 0, "reviewer stage deadline (default 5m)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the outcome as JSON")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [work-order.yaml]",
		Short: "Validate a work order file",
		Long:  "Validates work order YAML without dispatching.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wo, err := workorder.Load(args[0])
			if err != nil {
				return err
			}
			if err := wo.Validate(); err != nil {
				return err
			}
			fmt.Println("Work order is valid.")
			return nil
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List backends and their readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tKIND\tSTATUS")
			for _, name := range []string{"claude", "codex", "gemini"} {
				fmt.Fprintf(w, "%s\tcli\tready\n", name)
			}
			for _, name := range []string{"anthropic", "openai", "google"} {
				status := "no key"
				if cfg.HasProvider(name) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\thosted\t%s\n", name, status)
			}
			return w.Flush()
		},
	}
}

// createRegistry registers all six backends. Hosted backends without an
// API key stay in the registry as unavailable placeholders so dispatching
// to them fails with provider_unavailable rather than unknown_provider.
func createRegistry(cfg *config.Config, log *zap.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	registry.Register(provider.NewClaudeCLI(log))
	registry.Register(provider.NewCodexCLI(log))
	registry.Register(provider.NewGeminiCLI(log))

	if cfg.AnthropicAPIKey != "" {
		if client, err := modelclient.NewAnthropicClient(cfg.AnthropicAPIKey); err == nil {
			registry.Register(provider.NewHosted(client, log))
		} else {
			registry.Register(provider.NewUnavailable("anthropic", err.Error()))
		}
	} else {
		registry.Register(provider.NewUnavailable("anthropic", "ANTHROPIC_API_KEY is not set"))
	}

	if cfg.OpenAIAPIKey != "" {
		if client, err := modelclient.NewOpenAIClient(cfg.OpenAIAPIKey); err == nil {
			registry.Register(provider.NewHosted(client, log))
		} else {
			registry.Register(provider.NewUnavailable("openai", err.Error()))
		}
	} else {
		registry.Register(provider.NewUnavailable("openai", "OPENAI_API_KEY is not set"))
	}

	if cfg.GoogleAPIKey != "" {
		if client, err := modelclient.NewGoogleClient(cfg.GoogleAPIKey); err == nil {
			registry.Register(provider.NewHosted(client, log))
		} else {
			registry.Register(provider.NewUnavailable("google", err.Error()))
		}
	} else {
		registry.Register(provider.NewUnavailable("google", "GOOGLE_API_KEY is not set"))
	}

	return registry
}

func newLogger() (*zap.Logger, error) {
	if verboseFlag {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func printOutcome(outcome *pipeline.Outcome) {
	fmt.Printf("Run %s: %s (%s)\n", outcome.RunID, outcome.Status, outcome.Duration.Round(time.Millisecond))

	if outcome.Failure != nil {
		fmt.Printf("  failed in %s: %s: %s\n", outcome.Failure.Stage, outcome.Failure.Kind, outcome.Failure.Detail)
		return
	}
	if outcome.Builder != nil {
		fmt.Printf("  builder: %s\n", outcome.Builder.Summary)
		for _, file := range outcome.Builder.FilesChanged {
			fmt.Printf("    changed: %s\n", file)
		}
		for _, test := range outcome.Builder.Tests {
			status := "passed"
			if !test.Passed {
				status = "FAILED"
			}
			fmt.Printf("    test %s: %s\n", test.Command, status)
		}
		for _, risk := range outcome.Builder.Risks {
			fmt.Printf("    risk: %s\n", risk)
		}
	}
	for _, note := range outcome.Notes {
		fmt.Printf("  note: %s\n", note)
	}
}
