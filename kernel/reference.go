package kernel

import (
	"log/slog"

	"matrix-convolution/matrix"
)

// Dot returns the dot product of x and y with int32 wraparound.
func Dot(x, y []int32) int32 {
	if len(x) != len(y) {
		panic("kernel: Dot vector lengths must match")
	}
	var sum int32
	for i := range x {
		sum += x[i] * y[i]
	}
	return sum
}

// Reference is the direct triple-loop strategy.
type Reference struct {
	logger *slog.Logger
}

// Name implements Strategy.
func (r *Reference) Name() string { return NameReference }

// Convolve implements Strategy.
func (r *Reference) Convolve(a, b *matrix.Matrix) (*matrix.Matrix, error) {
	rows, cols, err := OutputShape(a, b)
	if err != nil {
		return nil, err
	}
	out, err := matrix.New(rows, cols)
	if err != nil {
		return nil, err
	}

	flipped := b.Flip()
	debugOperands(r.logger, a, b, flipped)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sum int32
			for k := 0; k < flipped.Rows; k++ {
				sum += Dot(a.Row(i + k)[j:j+flipped.Cols], flipped.Row(k))
			}
			out.Set(i, j, sum)
		}
	}
	return out, nil
}
