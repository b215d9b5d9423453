package actions

import (
	"strconv"
	"strings"
)

// ExtractPath walks a nested structure of maps and slices along a
// dot-separated path and returns the value found there, or nil when the
// path cannot be resolved.
//
// Slice segments must parse as integers and support negative indices
// counting from the end ("items.-1" is the last element). A blank path
// returns the input unchanged, which callers use to mean "the full
// response". A nil value reached before the path is exhausted short-circuits
// to nil instead of erroring.
//
// Note that "path resolved to nil" and "path invalid" are deliberately not
// distinguished: downstream consumers treat both as "no value".
func ExtractPath(data any, path string) any {
	path = strings.TrimSpace(path)
	if path == "" {
		return data
	}

	current := data
	for _, segment := range strings.Split(path, ".") {
		if current == nil {
			return nil
		}

		switch v := current.(type) {
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil {
				return nil
			}
			if index < -len(v) || index >= len(v) {
				return nil
			}
			if index < 0 {
				index += len(v)
			}
			current = v[index]
		case map[string]any:
			// Missing keys yield nil, handled above on the next segment
			// or returned as-is when this was the final one.
			current = v[segment]
		default:
			// Scalar with segments remaining, cannot descend further.
			return nil
		}
	}

	return current
}
