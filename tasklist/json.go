package tasklist

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ParseJSON parses {"tasks": [{"dir": ...} | {"a": ..., "b": ..., "out": ...}]}.
func ParseJSON(data []byte) ([]Task, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrTaskList)
	}
	list := gjson.GetBytes(data, "tasks")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: \"tasks\" must be an array", ErrTaskList)
	}

	var entries []entry
	var bad error
	list.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			bad = fmt.Errorf("%w: task %d is not an object", ErrTaskList, len(entries))
			return false
		}
		var e entry
		for key, dst := range map[string]*string{"dir": &e.Dir, "a": &e.A, "b": &e.B, "out": &e.Out} {
			field := v.Get(key)
			switch field.Type {
			case gjson.String:
				*dst = field.Str
			case gjson.Null:
			default:
				bad = fmt.Errorf("%w: task %d: %q must be a string", ErrTaskList, len(entries), key)
				return false
			}
		}
		entries = append(entries, e)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return fromEntries(entries)
}
