package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/ppline/internal/config"
	"github.com/Iron-Ham/ppline/internal/diagserver"
	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/export"
	"github.com/Iron-Ham/ppline/internal/ingest"
	"github.com/Iron-Ham/ppline/internal/itemconfig"
	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/metrics"
	"github.com/Iron-Ham/ppline/internal/pipeline"
	"github.com/Iron-Ham/ppline/internal/preproc"
	"github.com/Iron-Ham/ppline/internal/preproc/step"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the preprocessing pipeline",
	Long: `Run the preprocessing pipeline.

Values are read as JSON lines from standard input (or --input), one value
per line:

  {"itemid": 10, "value": "{\"temperature\": 215}", "ts": 1700000000}
  {"itemid": 11, "error": "connection refused"}

Each value is preprocessed with the steps configured for its item and the
results are written as JSON lines to the configured output. Values of
unknown items are passed through unchanged.

The item file is watched for changes unless items.watch is disabled.`,
	RunE: runRun,
}

var (
	runInput     string // Input file, "-" for stdin
	runOutput    string // Output override
	runItems     string // Item file override
	runWorkers   int    // Worker count override
	runExitOnEOF bool   // Drain and exit at the end of input
	runStrict    bool   // Fail on malformed input lines
	runNoDiag    bool   // Disable the diagnostics server
)

// idlePoll is how often the drain on end of input checks the queue.
const idlePoll = 50 * time.Millisecond

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "-", "JSON lines input file, - for stdin")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "JSON lines output file, - for stdout (overrides export.output)")
	runCmd.Flags().StringVar(&runItems, "items", "", "item configuration file (overrides items.file)")
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "number of preprocessing workers (overrides preprocessing.workers)")
	runCmd.Flags().BoolVar(&runExitOnEOF, "exit-on-eof", false, "finish queued work and exit when the input ends")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "stop on the first malformed input line")
	runCmd.Flags().BoolVar(&runNoDiag, "no-diag", false, "do not start the diagnostics server")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags layers command line overrides on top of cfg.
func applyRunFlags(cfg *config.Config) error {
	if runOutput != "" {
		cfg.Export.Output = runOutput
	}
	if runItems != "" {
		cfg.Items.File = runItems
	}
	if runWorkers != 0 {
		cfg.Preprocessing.Workers = runWorkers
	}
	if runNoDiag {
		cfg.Diag.Enabled = false
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return config.ValidationErrors(errs)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := applyRunFlags(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	input, err := openInput(runInput)
	if err != nil {
		return err
	}
	defer func() { _ = input.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var readerOpts []ingest.Option
	if runStrict {
		readerOpts = append(readerOpts, ingest.WithStrict())
	}
	return runPipeline(ctx, cfg, logger, input, runExitOnEOF, readerOpts...)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

// runPipeline wires the pipeline together and runs it until ctx is done or,
// with exitOnEOF, until the input is exhausted and every queued value has
// been delivered.
func runPipeline(ctx context.Context, cfg *config.Config, logger *logging.Logger, input io.Reader,
	exitOnEOF bool, readerOpts ...ingest.Option) error {
	bus := event.NewBus(logger.Component("bus"))
	table := preproc.NewItemTable()

	var watcher *itemconfig.Watcher
	if path := cfg.Items.ResolveItemsFile(baseDir()); path != "" {
		watcher = itemconfig.NewWatcher(path, table,
			itemconfig.WithDebounce(cfg.Items.Debounce),
			itemconfig.WithLogger(logger),
			itemconfig.WithBus(bus),
		)
		if err := watcher.Reload(); err != nil {
			return fmt.Errorf("failed to load items: %w", err)
		}
	} else {
		logger.Warn("no item file configured, values are passed through unchanged")
	}

	mgr, err := pipeline.New(cfg.Preprocessing.Workers,
		pipeline.WithLogger(logger),
		pipeline.WithEngine(step.New(step.WithLogger(logger.Component("step")))),
		pipeline.WithItems(table),
		pipeline.WithBus(bus),
		pipeline.WithStartupTimeout(cfg.Preprocessing.StartupTimeout),
		pipeline.WithBatchSize(cfg.Preprocessing.FinishedBatchSize),
	)
	if err != nil {
		return err
	}
	defer mgr.Close()
	mgr.DumpItems()

	sink, err := export.OpenJSONLines(cfg.Export.ResolveOutput(baseDir()))
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	svc := pipeline.NewService(mgr, sink,
		pipeline.WithManagerDelay(cfg.Preprocessing.ManagerDelay),
		pipeline.WithStatInterval(cfg.Preprocessing.StatInterval),
		pipeline.WithServiceLogger(logger),
		pipeline.WithServiceBus(bus),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return svc.Run(gctx) })

	if watcher != nil && cfg.Items.Watch {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.Diag.Enabled {
		collector := metrics.NewCollector(mgr)
		collector.Subscribe(bus)
		defer collector.Unsubscribe(bus)

		opts := []diagserver.Option{
			diagserver.WithLogger(logger),
			diagserver.WithThroughput(svc.LastThroughput),
		}
		if cfg.Diag.Metrics {
			opts = append(opts, diagserver.WithGatherer(metrics.NewRegistry(collector)))
		}
		srv := diagserver.New(mgr, opts...)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Diag.Listen) })
	}

	reader := ingest.NewReader(input, append([]ingest.Option{ingest.WithLogger(logger)}, readerOpts...)...)

	// A blocked read on stdin cannot be interrupted, so the reader runs
	// outside the group and is abandoned on shutdown.
	fed := make(chan error, 1)
	go func() { fed <- reader.Feed(gctx, ingest.DefaultBatchSize, svc.AddValues) }()

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-fed:
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
		}
		logger.Info("input exhausted", "skipped", reader.Skipped())
		if !exitOnEOF {
			return nil
		}
		if waitIdle(gctx, mgr) == nil {
			logger.Info("all values delivered, stopping")
			cancel()
		}
		return nil
	})

	return g.Wait()
}

// waitIdle blocks until the manager holds no queued, running or undelivered
// work.
func waitIdle(ctx context.Context, mgr *pipeline.Manager) error {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		s := mgr.GetDiagStats()
		if s.Pending+s.Processing+s.Finished == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
