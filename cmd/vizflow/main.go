package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zen-systems/vizflow/pkg/pipeline"
	"github.com/zen-systems/vizflow/pkg/prompt"
	"github.com/zen-systems/vizflow/pkg/repair"
)

// Set by LDFLAGS
var version = "dev"

var (
	configFile  string
	profileFlag string
	verbose     bool
	dryRun      bool
	metricsAddr string

	logger *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stopMetrics func()

	rootCmd := &cobra.Command{
		Use:     "vizflow",
		Short:   "Turn math explanations into validated p5.js or Manim code",
		Version: version,
		Long: `vizflow runs a chain of model-backed stages that analyse a mathematical
explanation, verify it, plan a visualization and write the code. The code is
checked by a panel of validator models; the animation profile gets one
repair round, and a simplified fallback is produced when validation fails.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(verbose)
			slog.SetDefault(logger)
			if metricsAddr != "" {
				shutdown, err := serveMetrics(metricsAddr)
				if err != nil {
					return err
				}
				stopMetrics = shutdown
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if stopMetrics != nil {
				stopMetrics()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to pipeline config file (default ~/.vizflow/pipeline.yaml)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "prompt profile: sketch (p5.js) or animation (Manim)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "use scripted offline models instead of providers")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	rootCmd.AddCommand(runCmd(ctx))
	rootCmd.AddCommand(batchCmd(ctx))
	rootCmd.AddCommand(validateCmd(ctx))
	rootCmd.AddCommand(promptsCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runCmd(ctx context.Context) *cobra.Command {
	var outFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Generate visualization code for one explanation",
		Long: `Runs the pipeline once. The explanation is taken from the arguments or,
when none are given, from stdin. The code goes to stdout and a summary to
stderr; --json prints the full result instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.TrimSpace(strings.Join(args, " "))
			if input == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				input = strings.TrimSpace(string(data))
			}
			if input == "" {
				return fmt.Errorf("no input: pass a prompt or pipe one on stdin")
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctrl, validator, err := createController(ctx, cfg, outFlag, logger)
			if err != nil {
				return err
			}
			defer validator.Close()

			res := ctrl.Run(ctx, input)
			if jsonFlag {
				if err := writeJSON(os.Stdout, res); err != nil {
					return err
				}
			} else {
				printResult(res)
			}

			if res.Status == pipeline.StatusError {
				return fmt.Errorf("run failed at %s: %s", res.Stage, res.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outFlag, "out", "", "evidence output base directory")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the result as JSON")

	return cmd
}

func printResult(res *pipeline.Result) {
	if res.HasCode() {
		fmt.Println(res.Code)
	}

	fmt.Fprintf(os.Stderr, "\nStatus: %s (%s)\n", res.Status, res.Stage)
	if res.Score != nil {
		fmt.Fprintf(os.Stderr, "Score: %.2f\n", *res.Score)
	}
	if res.Message != "" {
		fmt.Fprintf(os.Stderr, "Message: %s\n", res.Message)
	}
	fmt.Fprintf(os.Stderr, "Model calls: %d, tokens: %d, duration: %s\n", len(res.Calls), res.Usage.TotalTokens, res.Duration.Round(time.Millisecond))
	if res.EvidenceDir != "" {
		fmt.Fprintf(os.Stderr, "Evidence: %s\n", res.EvidenceDir)
	}
}

func batchCmd(ctx context.Context) *cobra.Command {
	var file string
	var concurrency int
	var outFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run the pipeline for every line of a file",
		Long: `Runs one pipeline per non-empty line of the input file. Runs are
independent and execute on a bounded worker pool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			inputs, err := readLines(file)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("%s has no prompts", file)
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctrl, validator, err := createController(ctx, cfg, outFlag, logger)
			if err != nil {
				return err
			}
			defer validator.Close()

			pool := pond.NewResultPool[*pipeline.Result](max(concurrency, 1))
			defer pool.StopAndWait()

			group := pool.NewGroupContext(ctx)
			for _, input := range inputs {
				group.Submit(func() *pipeline.Result {
					return ctrl.Run(ctx, input)
				})
			}
			results, err := group.Wait()
			if err != nil {
				return fmt.Errorf("batch interrupted: %w", err)
			}

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				for _, res := range results {
					if err := enc.Encode(res); err != nil {
						return err
					}
				}
			} else {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "#\tSTATUS\tSTAGE\tSCORE\tRUN ID\tPROMPT")
				for i, res := range results {
					score := "-"
					if res.Score != nil {
						score = fmt.Sprintf("%.2f", *res.Score)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, res.Status, res.Stage, score, res.RunID, truncate(inputs[i], 48))
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			failed := 0
			for _, res := range results {
				if res.Status == pipeline.StatusError {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one prompt per line (required)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "number of runs in flight")
	cmd.Flags().StringVar(&outFlag, "out", "", "evidence output base directory")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print one JSON result per line")

	return cmd
}

func validateCmd(ctx context.Context) *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "validate [code-file]",
		Short: "Run consensus validation on existing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := loadStore(cfg.Pipeline)
			if err != nil {
				return err
			}
			adapters, err := createAdapters(ctx, cfg, logger)
			if err != nil {
				return err
			}
			validator, err := createValidator(cfg, store, adapters, logger)
			if err != nil {
				return err
			}
			defer validator.Close()

			out := validator.Validate(ctx, string(code))
			if jsonFlag {
				if err := writeJSON(os.Stdout, out); err != nil {
					return err
				}
			} else {
				fmt.Print(repair.Summary(out))
			}

			if !out.Passed() {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the outcome as JSON")

	return cmd
}

func promptsCmd() *cobra.Command {
	var showText bool

	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "List prompt templates and their placeholders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := loadStore(cfg.Pipeline)
			if err != nil {
				return err
			}

			if showText {
				for _, key := range store.Keys() {
					tmpl, err := store.Get(key)
					if err != nil {
						return err
					}
					fmt.Printf("== %s ==\n%s\n\n", key, tmpl.Text())
				}
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "TEMPLATE (%s)\tPLACEHOLDERS\n", store.Profile())
			for _, key := range store.Keys() {
				tmpl, err := store.Get(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", key, strings.Join(tmpl.Placeholders(), ", "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&showText, "text", false, "print the full template text")

	return cmd
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List providers, key counts and stage assignments",
		Long: `Lists each provider with its models and configured key count, then the
model every stage, validator and the fallback is routed to.

Use --resolve to show aliases and what they resolve to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			p := cfg.Pipeline

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

			if resolveFlag {
				fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")
				aliasMap := p.Models.ListAliases()
				names := make([]string, 0, len(aliasMap))
				for name := range aliasMap {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, alias := range names {
					model := aliasMap[alias]
					fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, p.Models.GetProviderForModel(model))
				}
				return w.Flush()
			}

			fmt.Fprintln(w, "PROVIDER\tMODELS\tKEYS\tSTATUS")
			for _, provider := range p.Models.ListProviders() {
				status := "no key"
				if cfg.HasAdapter(provider) || provider == "mock" || dryRun {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", provider, strings.Join(p.Models.Providers[provider], ", "), cfg.KeyCount(provider), status)
			}

			fmt.Fprintln(w)
			fmt.Fprintf(w, "STAGE (%s/%s)\tADAPTER\tMODEL\tREJECT\n", p.Profile, p.Variant)
			variant, err := pipeline.ParseVariant(p.Variant)
			if err != nil {
				return err
			}
			for _, name := range pipeline.Stages(variant) {
				sc := p.Stages[name]
				t := p.Resolve(sc.RouteTarget)
				reject := sc.Reject
				if reject == "" {
					reject = "default"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, t.Adapter, t.Model, reject)
			}
			for _, v := range p.Consensus.Validators {
				t := p.Resolve(v.RouteTarget)
				fmt.Fprintf(w, "validator:%s\t%s\t%s\t-\n", v.Name, t.Adapter, t.Model)
			}
			fb := p.Resolve(p.Consensus.Fallback)
			fmt.Fprintf(w, "%s\t%s\t%s\t-\n", prompt.KeyFallbackGeneration, fb.Adapter, fb.Model)

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")

	return cmd
}

func serveMetrics(addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
