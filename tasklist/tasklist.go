// Package tasklist loads the ordered list of convolution tasks shared by
// every process in the pool.
package tasklist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrTaskList is returned for any task list that cannot be parsed.
var ErrTaskList = errors.New("tasklist: invalid task list")

// File names used when a task is given as a directory.
const (
	AFile   = "a.bin"
	BFile   = "b.bin"
	OutFile = "out.bin"
)

// Task identifies one convolution: read A and B, write the result to Out.
// Index is the position of the task in its list.
type Task struct {
	Index int
	A     string
	B     string
	Out   string
}

// entry is the serialized form of a task in the YAML and JSON formats.
type entry struct {
	Dir string `yaml:"dir"`
	A   string `yaml:"a"`
	B   string `yaml:"b"`
	Out string `yaml:"out"`
}

func (e entry) task(index int) (Task, error) {
	switch {
	case e.Dir != "" && e.A == "" && e.B == "" && e.Out == "":
		return FromDir(index, e.Dir), nil
	case e.Dir == "" && e.A != "" && e.B != "" && e.Out != "":
		return Task{Index: index, A: e.A, B: e.B, Out: e.Out}, nil
	default:
		return Task{}, fmt.Errorf("%w: task %d needs either dir or all of a, b, out", ErrTaskList, index)
	}
}

// FromDir builds a task whose operands and output live in dir.
func FromDir(index int, dir string) Task {
	return Task{
		Index: index,
		A:     filepath.Join(dir, AFile),
		B:     filepath.Join(dir, BFile),
		Out:   filepath.Join(dir, OutFile),
	}
}

// Load reads the task list at path. The format is chosen by extension:
// .yaml and .yml are YAML, .json is JSON, anything else is the text format.
func Load(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskList, err)
	}

	var tasks []Task
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		tasks, err = ParseYAML(data)
	case ".json":
		tasks, err = ParseJSON(data)
	default:
		tasks, err = ParseText(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}

func fromEntries(entries []entry) ([]Task, error) {
	tasks := make([]Task, 0, len(entries))
	for i, e := range entries {
		t, err := e.task(i)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
