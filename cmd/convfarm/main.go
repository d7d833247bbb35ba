// Command convfarm convolves pairs of integer matrices across a pool of
// processes. Rank 0 hands out tasks; every other rank computes them.
//
// Usage:
//
//	convfarm --np 4 tasks.txt         # start a local pool of 4 ranks
//	mpirun -np 4 convfarm tasks.txt   # rank and size from the MPI launcher
//	convfarm --rank 1 --size 4 --coordinator host:1234 tasks.txt
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"matrix-convolution/coordinator"
	"matrix-convolution/executor"
	"matrix-convolution/kernel"
	"matrix-convolution/launcher"
	"matrix-convolution/matrix"
	"matrix-convolution/shared"
	"matrix-convolution/tasklist"
	"matrix-convolution/worker"
)

type options struct {
	configPath  string
	np          int
	rank        int
	size        int
	strategy    string
	parallelism int
	blockWidth  int
	listen      string
	coordinator string
	report      string
	debug       bool
	logFormat   string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "convfarm [flags] <task-list>",
		Short: "Distributed 2-D matrix convolution task farm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "TOML configuration file")
	f.IntVar(&opts.np, "np", 0, "start a local pool of this many ranks")
	f.IntVar(&opts.rank, "rank", 0, "rank of this process (0 is the coordinator)")
	f.IntVar(&opts.size, "size", 0, "number of ranks in the pool")
	f.StringVar(&opts.strategy, "strategy", "", "kernel strategy: reference or vectorized")
	f.IntVar(&opts.parallelism, "parallelism", 0, "goroutines per convolution (0 = GOMAXPROCS)")
	f.IntVar(&opts.blockWidth, "block-width", 0, "inner reduction block width, a multiple of 8 (0 = detect)")
	f.StringVar(&opts.listen, "listen", "", "coordinator listen address")
	f.StringVar(&opts.coordinator, "coordinator", "", "coordinator address workers dial")
	f.StringVar(&opts.report, "report", "", "write a JSON run report to this path")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging, including operand dumps")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	return cmd
}

// applyFlags overrides cfg with the flags the user actually set.
func applyFlags(cmd *cobra.Command, opts options, cfg *shared.Config) {
	f := cmd.Flags()
	if f.Changed("strategy") {
		cfg.Strategy = opts.strategy
	}
	if f.Changed("parallelism") {
		cfg.Parallelism = opts.parallelism
	}
	if f.Changed("block-width") {
		cfg.BlockWidth = opts.blockWidth
	}
	if f.Changed("listen") {
		cfg.ListenAddr = opts.listen
	}
	if f.Changed("coordinator") {
		cfg.CoordinatorAddr = opts.coordinator
	}
	if f.Changed("report") {
		cfg.ReportPath = opts.report
	}
	if f.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if f.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
}

func run(cmd *cobra.Command, opts options, taskPath string) error {
	cfg, err := shared.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	tasks, err := tasklist.Load(taskPath)
	if err != nil {
		return err
	}

	rank, size, fromEnv, err := launcher.FromEnv(os.LookupEnv)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("rank") || cmd.Flags().Changed("size") {
		rank, size, fromEnv = opts.rank, opts.size, true
	}

	runID, ok := os.LookupEnv(launcher.EnvRunID)
	if !ok {
		runID = launcher.NewRunID()
	}
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()

	if !fromEnv {
		if opts.np == 0 {
			return errors.New("no rank assigned: use --np, --rank/--size, or an MPI launcher")
		}
		logger := shared.NewLogger(stderr, cfg, "run_id", runID)
		return launcher.Run(ctx, launcher.Spec{
			Size:   opts.np,
			Args:   forwardArgs(cmd, taskPath),
			RunID:  runID,
			Stdout: cmd.OutOrStdout(),
			Stderr: stderr,
		}, logger)
	}

	if size < 2 {
		return fmt.Errorf("pool size %d: need a coordinator and at least one worker", size)
	}
	if rank < 0 || rank >= size {
		return fmt.Errorf("rank %d out of range for pool size %d", rank, size)
	}

	logger := shared.NewLogger(stderr, cfg, "rank", rank, "run_id", runID)
	if rank == 0 {
		return runCoordinator(ctx, cfg, len(tasks), size-1, runID, logger)
	}
	return runWorker(ctx, cfg, rank, tasks, stderr, logger)
}

// forwardArgs rebuilds the command line for each rank of a local pool:
// every flag the user set except --np, then the task list.
func forwardArgs(cmd *cobra.Command, taskPath string) []string {
	var args []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name != "np" {
			args = append(args, "--"+f.Name+"="+f.Value.String())
		}
	})
	return append(args, taskPath)
}

func runCoordinator(ctx context.Context, cfg shared.Config, total, workers int, runID string, logger *slog.Logger) error {
	srv, err := coordinator.Listen(cfg.ListenAddr, logger)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	go srv.Serve()

	coord := coordinator.New(total, workers, srv.Inbox(), logger)
	coord.Report().RunID = runID
	coord.Report().Strategy = cfg.Strategy

	err = coord.Run(ctx)
	srv.Close()
	if err != nil {
		return err
	}
	srv.Wait()

	if cfg.ReportPath != "" {
		if err := coord.Report().WriteFile(cfg.ReportPath); err != nil {
			return err
		}
		logger.Info("coordinator: report written", "path", cfg.ReportPath)
	}
	return nil
}

func runWorker(ctx context.Context, cfg shared.Config, rank int, tasks []tasklist.Task, stderr io.Writer, logger *slog.Logger) error {
	opts := append(cfg.KernelOptions(), kernel.WithLogger(logger))
	k, err := kernel.New(cfg.Strategy, opts...)
	if err != nil {
		return err
	}
	ex := executor.New(matrix.FileIO{}, k, logger)

	conn, err := worker.Dial(ctx, cfg.CoordinatorAddr, rank, cfg.DialAttempts, cfg.Backoff(), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = worker.New(rank, tasks, conn, ex, logger).Run(ctx)
	var te *worker.TaskError
	if errors.As(err, &te) {
		fmt.Fprintf(stderr, "Task %d failed\n", te.Index)
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
