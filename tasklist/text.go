package tasklist

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ParseText parses the plain format: a task count on the first line, then
// one task per line. A line is either a single directory or three paths
// "A B OUT". Blank lines and lines starting with '#' are ignored.
func ParseText(data []byte) ([]Task, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))

	count := -1
	var tasks []Task
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if count < 0 {
			n, err := strconv.Atoi(line)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: line %d: expected task count, got %q", ErrTaskList, lineNo, line)
			}
			count = n
			tasks = make([]Task, 0, n)
			continue
		}

		if len(tasks) == count {
			return nil, fmt.Errorf("%w: line %d: more tasks than the declared %d", ErrTaskList, lineNo, count)
		}

		fields := strings.Fields(line)
		switch len(fields) {
		case 1:
			tasks = append(tasks, FromDir(len(tasks), fields[0]))
		case 3:
			tasks = append(tasks, Task{Index: len(tasks), A: fields[0], B: fields[1], Out: fields[2]})
		default:
			return nil, fmt.Errorf("%w: line %d: expected 1 or 3 fields, got %d", ErrTaskList, lineNo, len(fields))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskList, err)
	}

	if count < 0 {
		return nil, fmt.Errorf("%w: missing task count", ErrTaskList)
	}
	if len(tasks) != count {
		return nil, fmt.Errorf("%w: declared %d tasks, found %d", ErrTaskList, count, len(tasks))
	}
	return tasks, nil
}
