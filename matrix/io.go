package matrix

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrFormat is returned when a matrix file is malformed.
var ErrFormat = errors.New("matrix: malformed file")

// maxElements bounds the dimensions accepted from an untrusted header.
const maxElements = 1 << 31

// chunkElements is how many values are read per step, so a header that
// promises more data than the stream holds never allocates it up front.
const chunkElements = 1 << 16

const headerSize = 8

// Read decodes a matrix in the binary layout: uint32 rows, uint32 cols,
// then rows*cols int32 values, all little-endian.
func Read(r io.Reader) (*Matrix, error) {
	return decode(r, -1)
}

// decode reads a matrix. A size of zero or more is the total byte length
// of the stream and is checked against the header before any data is read.
func decode(r io.Reader, size int64) (*Matrix, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	rows, cols := int(header[0]), int(header[1])
	elements := uint64(header[0]) * uint64(header[1])
	if elements > maxElements {
		return nil, fmt.Errorf("%w: %dx%d is too large", ErrFormat, rows, cols)
	}
	if size >= 0 && uint64(size) != headerSize+4*elements {
		return nil, fmt.Errorf("%w: %dx%d needs %d bytes, file has %d", ErrFormat, rows, cols, headerSize+4*elements, size)
	}

	n := int(elements)
	data := make([]int32, 0, min(n, chunkElements))
	for len(data) < n {
		chunk := make([]int32, min(n-len(data), chunkElements))
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, fmt.Errorf("%w: data for %dx%d: %v", ErrFormat, rows, cols, err)
		}
		data = append(data, chunk...)
	}

	var extra [1]byte
	if k, _ := r.Read(extra[:]); k > 0 {
		return nil, fmt.Errorf("%w: trailing data after %dx%d matrix", ErrFormat, rows, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

// Write encodes m in the layout Read understands.
func Write(w io.Writer, m *Matrix) error {
	if len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("%w: %dx%d with %d elements", ErrDimensions, m.Rows, m.Cols, len(m.Data))
	}
	header := [2]uint32{uint32(m.Rows), uint32(m.Cols)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.Data)
}

// ReadFile loads a matrix from path.
func ReadFile(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := decode(bufio.NewReader(f), info.Size())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return m, nil
}

// WriteFile stores m at path, replacing any existing file.
func WriteFile(path string, m *Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	if err := Write(bw, m); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// FileIO loads and stores matrices on the local file system. Locators are
// file paths.
type FileIO struct{}

// Load implements executor.MatrixIO.
func (FileIO) Load(locator string) (*Matrix, error) {
	return ReadFile(locator)
}

// Store implements executor.MatrixIO.
func (FileIO) Store(locator string, m *Matrix) error {
	return WriteFile(locator, m)
}
