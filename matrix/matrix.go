package matrix

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// ErrDimensions is returned when a matrix shape is invalid.
var ErrDimensions = errors.New("matrix: invalid dimensions")

// Matrix is a row-major buffer of signed 32-bit integers.
// len(Data) is always Rows*Cols.
type Matrix struct {
	Rows int
	Cols int
	Data []int32
}

// New allocates a zeroed rows x cols matrix.
func New(rows, cols int) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrDimensions, rows, cols)
	}
	if cols != 0 && rows > math.MaxInt/cols {
		return nil, fmt.Errorf("%w: %dx%d overflows", ErrDimensions, rows, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: make([]int32, rows*cols)}, nil
}

// FromRows copies a slice of rows into a new matrix. All rows must have
// the same length.
func FromRows(rows [][]int32) (*Matrix, error) {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	m, err := New(len(rows), cols)
	if err != nil {
		return nil, err
	}
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrDimensions, i, len(r), cols)
		}
		copy(m.Row(i), r)
	}
	return m, nil
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) int32 {
	return m.Data[i*m.Cols+j]
}

// Set stores v at row i, column j.
func (m *Matrix) Set(i, j int, v int32) {
	m.Data[i*m.Cols+j] = v
}

// Row returns row i as a sub-slice of the underlying buffer.
func (m *Matrix) Row(i int) []int32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	data := make([]int32, len(m.Data))
	copy(data, m.Data)
	return &Matrix{Rows: m.Rows, Cols: m.Cols, Data: data}
}

// Equal reports whether both matrices have the same shape and contents.
func (m *Matrix) Equal(o *Matrix) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols || len(m.Data) != len(o.Data) {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// Flip returns the matrix rotated by 180 degrees:
// out[i][j] = m[Rows-1-i][Cols-1-j].
func (m *Matrix) Flip() *Matrix {
	out := &Matrix{Rows: m.Rows, Cols: m.Cols, Data: make([]int32, len(m.Data))}
	n := len(m.Data)
	for i, v := range m.Data {
		out.Data[n-1-i] = v
	}
	return out
}

// Format writes the matrix one row per line with each cell padded to four
// characters.
func Format(w io.Writer, m *Matrix) error {
	var sb strings.Builder
	for i := 0; i < m.Rows; i++ {
		for _, v := range m.Row(i) {
			fmt.Fprintf(&sb, "%4d ", v)
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// String implements fmt.Stringer using Format.
func (m *Matrix) String() string {
	var sb strings.Builder
	_ = Format(&sb, m)
	return sb.String()
}
