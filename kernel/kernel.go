// Package kernel computes the 2-D correlation of two integer matrices.
//
// Two strategies implement the same contract: Reference evaluates the sum
// directly, one output cell at a time, and Vectorized splits output rows
// across goroutines and accumulates eight output columns per step. For any
// valid pair of operands both return bit-identical results, including
// when int32 arithmetic wraps.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"matrix-convolution/matrix"
)

// ErrShape is returned when operand B does not fit inside operand A.
var ErrShape = errors.New("kernel: operand B does not fit inside operand A")

// Strategy names accepted by New.
const (
	NameReference  = "reference"
	NameVectorized = "vectorized"
)

// Strategy convolves A with B. Implementations never modify their inputs
// and always return a freshly allocated output.
type Strategy interface {
	Name() string
	Convolve(a, b *matrix.Matrix) (*matrix.Matrix, error)
}

type options struct {
	parallelism int
	blockWidth  int
	logger      *slog.Logger
}

// Option configures a Strategy built by New.
type Option func(*options)

// WithParallelism sets how many goroutines the vectorized strategy uses.
// Zero or less means runtime.GOMAXPROCS(0).
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithBlockWidth sets the inner reduction block width of the vectorized
// strategy. It must be a positive multiple of 8; zero means
// DetectBlockWidth().
func WithBlockWidth(w int) Option {
	return func(o *options) {
		o.blockWidth = w
	}
}

// WithLogger sets the logger used for debug dumps of the operands.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.parallelism <= 0 {
		o.parallelism = runtime.GOMAXPROCS(0)
	}
	if o.blockWidth == 0 {
		o.blockWidth = DetectBlockWidth()
	}
	if o.blockWidth < 0 || o.blockWidth%lanes != 0 {
		return o, fmt.Errorf("kernel: block width %d is not a positive multiple of %d", o.blockWidth, lanes)
	}
	return o, nil
}

// New returns the strategy registered under name.
func New(name string, opts ...Option) (Strategy, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	switch name {
	case NameReference:
		return &Reference{logger: o.logger}, nil
	case NameVectorized:
		return &Vectorized{parallelism: o.parallelism, blockWidth: o.blockWidth, logger: o.logger}, nil
	default:
		return nil, fmt.Errorf("kernel: unknown strategy %q", name)
	}
}

// OutputShape validates the operands and returns the output dimensions
// (a.Rows-b.Rows+1, a.Cols-b.Cols+1). An empty B is valid and yields an
// all-zero output.
func OutputShape(a, b *matrix.Matrix) (rows, cols int, err error) {
	if b.Rows > a.Rows || b.Cols > a.Cols {
		return 0, 0, fmt.Errorf("%w: A %dx%d, B %dx%d", ErrShape, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	return a.Rows - b.Rows + 1, a.Cols - b.Cols + 1, nil
}

// debugOperands dumps the operands when debug logging is on.
func debugOperands(logger *slog.Logger, a, b, flipped *matrix.Matrix) {
	if logger == nil || !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	logger.Debug("kernel: operands",
		"a", "\n"+a.String(),
		"b", "\n"+b.String(),
		"flipped_b", "\n"+flipped.String(),
	)
}
