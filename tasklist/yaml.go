package tasklist

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlFile is the structure of a YAML task list.
type yamlFile struct {
	Tasks []entry `yaml:"tasks"`
}

// ParseYAML parses a task list of the form
//
//	tasks:
//	  - dir: tests/case0
//	  - a: a.bin
//	    b: b.bin
//	    out: out.bin
func ParseYAML(data []byte) ([]Task, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskList, err)
	}
	return fromEntries(f.Tasks)
}
