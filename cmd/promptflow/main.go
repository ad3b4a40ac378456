package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soochol/promptflow/internal/api"
	"github.com/soochol/promptflow/internal/config"
	"github.com/soochol/promptflow/internal/output"
	"github.com/soochol/promptflow/internal/promptflow"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitCode carries a process exit status through cobra.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

// execute runs the command line and returns the process exit status:
// 0 on success, 1 on runtime failure and 2 on usage errors.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	var code exitCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return 2
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "promptflow",
		Short:         "Run multi-step prompt workflows against Gemini",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newRunCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := serve(cmd.Context(), cfg); err != nil {
				slog.Error("server error", "err", err)
				return exitCode(1)
			}
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "run <workflow.yaml|workflow.json> [key=value ...]",
		Short: "Execute a workflow file once and print the execution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := runOnce(cmd.Context(), format, args, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or md")
	return cmd
}

func loadConfig(logOut io.Writer) (*config.Config, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		slog.Error("config error", "err", err)
		return nil, exitCode(1)
	}
	setupLogger(cfg.Log, logOut)
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, appOptions{persistent: true, withMetrics: cfg.Server.Metrics})
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer a.closeAndLog()

	srv := api.NewServer(a.service)
	srv.SetPromptService(a.prompts)
	srv.SetCache(a.client)
	srv.SetResilience(a.client.Resilience())
	srv.SetEvents(a.events)
	srv.SetCORSOrigins(cfg.Server.CORSOrigins)
	if a.metrics != nil {
		srv.SetMetrics(a.metrics)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting promptflow server", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}
	return nil
}

// runOnce executes a workflow file and prints the execution. The exit code
// is 0 only when the run completed.
func runOnce(ctx context.Context, format string, args []string, out, errOut io.Writer) int {
	formatter, err := output.NewFormatter(format)
	if err != nil {
		fmt.Fprintln(errOut, "Error:", err)
		return 2
	}
	vars, err := parseVars(args[1:])
	if err != nil {
		fmt.Fprintln(errOut, "Error:", err)
		return 2
	}
	cfg, err := loadConfig(errOut)
	if err != nil {
		return 1
	}

	wf, err := promptflow.LoadWorkflowFile(args[0])
	if err != nil {
		slog.Error("load workflow", "path", args[0], "err", err)
		return 1
	}

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		slog.Error("startup failed", "err", err)
		return 1
	}
	defer a.closeAndLog()

	stored, err := a.service.Create(ctx, wf)
	if err != nil {
		slog.Error("register workflow", "err", err)
		return 1
	}
	exec, err := a.service.Run(ctx, stored.ID, vars)
	if exec == nil {
		slog.Error("run failed", "err", err)
		return 1
	}

	var body []byte
	if _, isJSON := formatter.(output.JSONFormatter); isJSON {
		body, err = formatter.Format(exec)
	} else {
		body, err = formatter.Format(output.Report{Workflow: stored, Executions: []promptflow.WorkflowExecution{*exec}})
	}
	if err != nil {
		slog.Error("format execution", "err", err)
		return 1
	}
	if _, err := out.Write(body); err != nil {
		slog.Error("write execution", "err", err)
		return 1
	}
	if exec.Status != promptflow.ExecutionCompleted {
		return 1
	}
	return 0
}

// parseVars turns key=value arguments into run variables.
func parseVars(args []string) (map[string]any, error) {
	vars := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid variable %q: want key=value", arg)
		}
		vars[strings.TrimSpace(k)] = v
	}
	return vars, nil
}
