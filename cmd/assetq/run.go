package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/assetq/internal/application/build"
	"github.com/alexisbeaulieu97/assetq/internal/config"
	"github.com/alexisbeaulieu97/assetq/internal/controller"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/manifest"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/tui"
	"github.com/alexisbeaulieu97/assetq/internal/wait"
)

type runOptions struct {
	ConfigPath     string
	ManifestPath   string
	Watch          bool
	MetricsAddr    string
	Timeout        time.Duration
	Verbose        bool
	NonInteractive bool
	Out            io.Writer
	LogWriter      io.Writer
}

var runCmdRunner = runBuild

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit the jobs of a manifest and wait until they finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = root.configPath
			opts.Verbose = root.verbose
			opts.NonInteractive = !term.IsTerminal(int(os.Stdout.Fd()))
			opts.Out = cmd.OutOrStdout()
			opts.LogWriter = cmd.ErrOrStderr()

			if err := validateFilePath("config", opts.ConfigPath); err != nil {
				return err
			}
			if err := validateFilePath("manifest", opts.ManifestPath); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCmdRunner(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "", "Path to the job manifest")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Show a live view of the queue")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics_addr)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Hour, "Give up waiting for the queue to drain after this long")
	cmd.MarkFlagRequired("manifest") //nolint:errcheck

	return cmd
}

func runBuild(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	logWriter := opts.LogWriter
	if logWriter == nil {
		logWriter = os.Stderr
	}
	baseLogger, err := newLogger(cfg, opts.Verbose, logWriter)
	if err != nil {
		return err
	}

	interactive := opts.Watch && !opts.NonInteractive
	var logger ports.Logger = baseLogger
	var deferred *logging.Deferred
	if interactive {
		// The view owns the terminal; log entries are replayed once it exits.
		deferred = logging.NewDeferred(0)
		logger = deferred
		defer deferred.Flush(baseLogger)
	}

	ctx = ports.WithCorrelationID(ctx, ports.GenerateCorrelationID())

	m, err := manifest.NewLoader(logger).Load(ctx, opts.ManifestPath)
	if err != nil {
		return err
	}
	batch, err := m.Expand(cfg)
	if err != nil {
		return err
	}

	app, err := newAppContext(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.MetricsAddr != "" {
		shutdown, err := app.metrics.Serve(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return app.controller.Run(groupCtx) })
	group.Go(func() error { return app.service.Run(groupCtx) })

	view, err := startView(runCtx, cancel, app, cfg, opts, interactive)
	if err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	results, err := app.service.SubmitBatch(runCtx, batch)
	if err == nil {
		reportRejected(runCtx, logger, results)
		err = app.service.WaitIdle(runCtx, wait.Policy{Interval: cfg.ShutdownPollInterval, MaxDuration: opts.Timeout})
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+time.Second)
	if shutdownErr := app.controller.Shutdown(shutdownCtx); shutdownErr != nil && !errors.Is(shutdownErr, controller.ErrStopped) {
		logger.Warn(ctx, "controller shutdown incomplete", "error", shutdownErr)
	}
	cancelShutdown()

	// The catalog loop only exits on cancellation.
	summary := app.service.Summary()
	cancel()
	if groupErr := group.Wait(); groupErr != nil && !errors.Is(groupErr, context.Canceled) && err == nil {
		err = groupErr
	}

	view.finish(err, opts.Out)
	if err == nil {
		printSummary(opts.Out, summary)
	}

	switch {
	case err != nil:
		return err
	case summary.Failed > 0:
		return fmt.Errorf("%d job(s) failed", summary.Failed)
	}
	return nil
}

func reportRejected(ctx context.Context, logger ports.Logger, results []controller.SubmitResult) {
	for _, r := range results {
		if r.Err != nil {
			logger.Error(ctx, "submission refused", "job", r.Identity.String(), "error", r.Err)
		}
	}
}

func printSummary(w io.Writer, s build.Summary) {
	fmt.Fprintf(w, "completed: %d, failed: %d, cancelled: %d, duplicates dropped: %d\n", s.Completed, s.Failed, s.Cancelled, s.Rejected)
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  ✗ %s: %s\n", f.Identity, f.Message)
	}
}

// statusView drives the live view, either as a running program or, when the
// terminal is not interactive, by feeding messages straight into the model.
type statusView struct {
	program *tea.Program
	done    chan struct{}
	state   *tui.Model
	stream  *events.Stream
	enabled bool
}

func startView(ctx context.Context, cancel context.CancelFunc, app *appContext, cfg *config.Config, opts runOptions, interactive bool) (*statusView, error) {
	v := &statusView{done: make(chan struct{}), enabled: opts.Watch}
	if !opts.Watch {
		close(v.done)
		return v, nil
	}

	platforms := make([]string, 0, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		platforms = append(platforms, p.Name)
	}
	model := tui.NewModel(opts.ManifestPath, platforms, !interactive)

	stream, err := events.NewStream(app.publisher)
	if err != nil {
		return nil, err
	}
	v.stream = stream

	if !interactive {
		v.state = &model
		close(v.done)
		return v, nil
	}

	v.program = tea.NewProgram(model)
	go func() {
		defer close(v.done)
		final, err := v.program.Run()
		if err != nil {
			app.logger.Error(ctx, "status view failed", "error", err)
		}
		if m, ok := final.(tui.Model); ok && m.Interrupted() {
			cancel()
		}
	}()
	go func() {
		_ = tui.Forward(ctx, stream, v.program.Send)
	}()
	return v, nil
}

func (v *statusView) finish(err error, out io.Writer) {
	if !v.enabled {
		return
	}
	defer v.stream.Close()

	if v.program != nil {
		v.program.Send(tui.DoneMsg{Err: err})
		<-v.done
		return
	}

	// Drain what the stream buffered into the model, then print it once.
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = tui.Forward(drainCtx, v.stream, func(msg tea.Msg) {
		updated, _ := v.state.Update(msg)
		if m, ok := updated.(tui.Model); ok {
			*v.state = m
		}
	})
	updated, _ := v.state.Update(tui.DoneMsg{Err: err})
	if m, ok := updated.(tui.Model); ok {
		*v.state = m
	}
	fmt.Fprintln(out, v.state.View())
}
