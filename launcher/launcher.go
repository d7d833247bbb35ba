// Package launcher starts a process pool: Size copies of one executable,
// each told its rank through the environment. Rank 0 becomes the
// coordinator and every other rank a worker.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Environment variables understood by every rank.
const (
	EnvRank  = "CONVFARM_RANK"
	EnvSize  = "CONVFARM_SIZE"
	EnvRunID = "CONVFARM_RUN_ID"
)

// rankVars lists (rank, size) variable pairs in lookup order. The MPI
// launchers' variables let the binary run under mpirun as well.
var rankVars = [][2]string{
	{EnvRank, EnvSize},
	{"OMPI_COMM_WORLD_RANK", "OMPI_COMM_WORLD_SIZE"},
	{"PMI_RANK", "PMI_SIZE"},
}

// RankError is the failure of one rank.
type RankError struct {
	Rank int
	Err  error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("rank %d: %v", e.Rank, e.Err)
}

func (e *RankError) Unwrap() error {
	return e.Err
}

// Spec describes a pool to launch.
type Spec struct {
	Size   int
	Path   string   // executable; defaults to os.Executable()
	Args   []string // arguments passed to every rank
	Env    []string // base environment; defaults to os.Environ()
	RunID  string   // defaults to a new uuid
	Stdout io.Writer
	Stderr io.Writer
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// FromEnv returns the rank and pool size set by a launcher. ok is false
// when no launcher variables are present.
func FromEnv(lookup func(string) (string, bool)) (rank, size int, ok bool, err error) {
	for _, pair := range rankVars {
		r, hasRank := lookup(pair[0])
		s, hasSize := lookup(pair[1])
		if !hasRank && !hasSize {
			continue
		}
		if !hasRank || !hasSize {
			return 0, 0, false, fmt.Errorf("launcher: %s and %s must be set together", pair[0], pair[1])
		}
		if rank, err = strconv.Atoi(r); err != nil {
			return 0, 0, false, fmt.Errorf("launcher: %s=%q: %w", pair[0], r, err)
		}
		if size, err = strconv.Atoi(s); err != nil {
			return 0, 0, false, fmt.Errorf("launcher: %s=%q: %w", pair[1], s, err)
		}
		return rank, size, true, nil
	}
	return 0, 0, false, nil
}

// Run starts every rank, waits for all of them and returns the joined
// RankErrors of those that failed. Rank 0 is started first so workers
// find the coordinator listening sooner. The first rank to fail aborts the
// pool: the remaining ranks are killed and only the failures that caused
// the abort are reported.
func Run(ctx context.Context, spec Spec, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if spec.Size < 2 {
		return fmt.Errorf("launcher: pool size %d, need a coordinator and at least one worker", spec.Size)
	}
	if spec.Path == "" {
		path, err := os.Executable()
		if err != nil {
			return fmt.Errorf("launcher: locating executable: %w", err)
		}
		spec.Path = path
	}
	if spec.Env == nil {
		spec.Env = os.Environ()
	}
	if spec.RunID == "" {
		spec.RunID = NewRunID()
	}
	if spec.Stdout == nil {
		spec.Stdout = os.Stdout
	}
	if spec.Stderr == nil {
		spec.Stderr = os.Stderr
	}

	logger.Info("launcher: starting pool", "size", spec.Size, "run_id", spec.RunID)

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var (
		mu      sync.Mutex
		aborted bool
	)
	errs := make([]error, spec.Size)
	fail := func(rank int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if aborted && ctx.Err() == nil && killed(runCtx, err) {
			logger.Debug("launcher: rank killed after pool abort", "rank", rank)
			return
		}
		errs[rank] = &RankError{Rank: rank, Err: err}
		logger.Error("launcher: rank exited with failure", "rank", rank, "error", err)
		if !aborted {
			aborted = true
			abort()
		}
	}

	var wg sync.WaitGroup
	for rank := 0; rank < spec.Size; rank++ {
		cmd := exec.CommandContext(runCtx, spec.Path, spec.Args...)
		cmd.Env = append(append([]string(nil), spec.Env...),
			EnvRank+"="+strconv.Itoa(rank),
			EnvSize+"="+strconv.Itoa(spec.Size),
			EnvRunID+"="+spec.RunID,
		)
		cmd.Stdout = spec.Stdout
		cmd.Stderr = spec.Stderr

		if err := cmd.Start(); err != nil {
			fail(rank, err)
			continue
		}

		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			if err := cmd.Wait(); err != nil {
				fail(rank, err)
				return
			}
			logger.Debug("launcher: rank exited", "rank", rank)
		}(rank)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// killed reports whether err is the result of runCtx being cancelled: a
// start refused by the context or a process terminated by a signal.
func killed(runCtx context.Context, err error) bool {
	if errors.Is(err, runCtx.Err()) {
		return true
	}
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == -1
}
