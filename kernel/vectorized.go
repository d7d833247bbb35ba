package kernel

import (
	"log/slog"
	"sync"

	"matrix-convolution/matrix"
)

// lanes is the number of int32 values held by one accumulator register.
const lanes = 8

// Vectorized distributes output rows across goroutines. Within a row it
// accumulates eight adjacent output columns at once and reduces each
// window with a blocked dot product.
type Vectorized struct {
	parallelism int
	blockWidth  int
	logger      *slog.Logger
}

// NewVectorized returns a vectorized strategy. See WithParallelism and
// WithBlockWidth.
func NewVectorized(opts ...Option) (*Vectorized, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Vectorized{parallelism: o.parallelism, blockWidth: o.blockWidth, logger: o.logger}, nil
}

// Name implements Strategy.
func (v *Vectorized) Name() string { return NameVectorized }

// BlockWidth returns the inner reduction block width.
func (v *Vectorized) BlockWidth() int { return v.blockWidth }

// Convolve implements Strategy.
func (v *Vectorized) Convolve(a, b *matrix.Matrix) (*matrix.Matrix, error) {
	rows, cols, err := OutputShape(a, b)
	if err != nil {
		return nil, err
	}
	out, err := matrix.New(rows, cols)
	if err != nil {
		return nil, err
	}

	flipped := b.Flip()
	debugOperands(v.logger, a, b, flipped)

	workers := min(v.parallelism, rows)
	if workers <= 1 {
		for i := 0; i < rows; i++ {
			v.convolveRow(a, flipped, out, i)
		}
		return out, nil
	}

	// Each row writes only to its own slice of out.
	work := make(chan int, rows)
	for i := 0; i < rows; i++ {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				v.convolveRow(a, flipped, out, i)
			}
		}()
	}
	wg.Wait()
	return out, nil
}

// convolveRow fills output row i.
func (v *Vectorized) convolveRow(a, flipped, out *matrix.Matrix, i int) {
	dst := out.Row(i)
	n := flipped.Cols
	tail := out.Cols - out.Cols%lanes

	for j := 0; j < tail; j += lanes {
		var acc [lanes]int32
		for k := 0; k < flipped.Rows; k++ {
			window := a.Row(i + k)[j:]
			fr := flipped.Row(k)
			acc[0] += blockDot(v.blockWidth, window[0:n], fr)
			acc[1] += blockDot(v.blockWidth, window[1:1+n], fr)
			acc[2] += blockDot(v.blockWidth, window[2:2+n], fr)
			acc[3] += blockDot(v.blockWidth, window[3:3+n], fr)
			acc[4] += blockDot(v.blockWidth, window[4:4+n], fr)
			acc[5] += blockDot(v.blockWidth, window[5:5+n], fr)
			acc[6] += blockDot(v.blockWidth, window[6:6+n], fr)
			acc[7] += blockDot(v.blockWidth, window[7:7+n], fr)
		}
		copy(dst[j:j+lanes], acc[:])
	}

	for j := tail; j < out.Cols; j++ {
		var sum int32
		for k := 0; k < flipped.Rows; k++ {
			sum += blockDot(v.blockWidth, a.Row(i + k)[j:j+n], flipped.Row(k))
		}
		dst[j] = sum
	}
}

// blockDot reduces x·y in blocks of width elements, eight lanes at a time,
// and finishes any remainder with scalar steps. width is a multiple of
// lanes. len(x) must equal len(y).
func blockDot(width int, x, y []int32) int32 {
	n := len(y)
	x = x[:n]

	var acc [lanes]int32
	i := 0
	for ; i+width <= n; i += width {
		for base := i; base < i+width; base += lanes {
			xs := x[base : base+lanes : base+lanes]
			ys := y[base : base+lanes : base+lanes]
			acc[0] += xs[0] * ys[0]
			acc[1] += xs[1] * ys[1]
			acc[2] += xs[2] * ys[2]
			acc[3] += xs[3] * ys[3]
			acc[4] += xs[4] * ys[4]
			acc[5] += xs[5] * ys[5]
			acc[6] += xs[6] * ys[6]
			acc[7] += xs[7] * ys[7]
		}
	}

	sum := acc[0] + acc[1] + acc[2] + acc[3] + acc[4] + acc[5] + acc[6] + acc[7]
	for ; i < n; i++ {
		sum += x[i] * y[i]
	}
	return sum
}
