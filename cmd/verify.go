package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/gnoswap-labs/tverify/formatter"
	"github.com/gnoswap-labs/tverify/internal/telemetry"
	"github.com/gnoswap-labs/tverify/internal/types"
	"github.com/gnoswap-labs/tverify/verify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errVerificationFailed = errors.New("verification failed")

var (
	backendName    string
	jsonOutput     bool
	jsonOutputPath string
	watchMode      bool
	traceExporter  string
	metricsAddr    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify [programs...]",
	Short: "Verify encoded programs with a configured backend",
	Long: `Submits every program (or every .vpr file under a directory) to a backend and
reports the failures against the original source. Positions are read from
<program>.positions.yaml next to each program.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		config, err := verify.ParseConfigurationFile(cfgFile)
		if err != nil {
			logger.Error("Failed to read configuration", zap.String("path", cfgFile), zap.Error(err))
			return err
		}

		tel, err := telemetry.Init(ctx, telemetry.Config{
			TraceExporter: traceExporter,
			TraceWriter:   cmd.ErrOrStderr(),
			MetricsAddr:   metricsAddr,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				logger.Warn("Telemetry did not stop cleanly", zap.Error(err))
			}
		}()

		session, err := verify.New(config, logger, tel.DispatchOptions()...)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Close(context.Background()); err != nil {
				logger.Warn("Backends did not stop cleanly", zap.Error(err))
			}
		}()

		if backendName != "" {
			if err := session.UseBackend(backendName); err != nil {
				return err
			}
		}

		if watchMode {
			watchCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return runWatch(watchCtx, cmd.OutOrStdout(), session, args)
		}
		return runVerification(ctx, cmd.OutOrStdout(), session, args)
	},
}

func init() {
	verifyCmd.Flags().StringVarP(&backendName, "backend", "b", "", "Backend to verify with (defaults to the first configured)")
	verifyCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output diagnostics in JSON format")
	verifyCmd.Flags().StringVarP(&jsonOutputPath, "output", "o", "", "Output path (when using JSON)")
	verifyCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Re-verify programs whenever they change")
	verifyCmd.Flags().StringVar(&traceExporter, "trace", telemetry.ExporterNone, "Export backend invocation spans (none, stdout)")
	verifyCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9090")
}

func runVerification(ctx context.Context, w io.Writer, v verify.Verifier, paths []string) error {
	diags, err := verify.ProcessFiles(ctx, logger, v, paths, verify.ProcessFile)
	if err != nil {
		logger.Error("Error processing programs", zap.Error(err))
		return err
	}

	if jsonOutput {
		if err := printJSON(w, diags, jsonOutputPath); err != nil {
			return err
		}
	} else if err := formatter.Render(w, diags, nil); err != nil {
		return err
	}

	if len(diags) > 0 {
		return fmt.Errorf("%w: %d diagnostics", errVerificationFailed, len(diags))
	}
	return nil
}

// runWatch verifies paths once, then keeps re-verifying changed programs
// until ctx is done.
func runWatch(ctx context.Context, w io.Writer, v verify.Verifier, paths []string) error {
	if err := runVerification(ctx, w, v, paths); err != nil && !errors.Is(err, errVerificationFailed) {
		return err
	}

	watcher, err := verify.NewWatcher(v, logger, func(path string, diags []types.Diagnostic, err error) {
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", path, err)
			return
		}
		if len(diags) == 0 {
			fmt.Fprintf(w, "%s: verified\n", path)
			return
		}
		if err := formatter.Render(w, diags, nil); err != nil {
			logger.Error("Failed to render diagnostics", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, "Watching for changes...")
	return watcher.Run(ctx)
}

func printJSON(w io.Writer, diags []types.Diagnostic, path string) error {
	byFile := make(map[string][]types.Diagnostic)
	for _, d := range diags {
		byFile[d.Span.Start.Filename] = append(byFile[d.Span.Start.Filename], d)
	}
	for _, group := range byFile {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Span.Start.Line < group[j].Span.Start.Line
		})
	}

	d, err := json.MarshalIndent(byFile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	if path == "" {
		_, err = fmt.Fprintln(w, string(d))
		return err
	}
	if err := os.WriteFile(path, d, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(w, "Diagnostics written to %s\n", path)
	return nil
}
