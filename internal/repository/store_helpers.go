package repository

import "errors"

// ErrRecordNotFound is returned by stores when the requested record does not
// exist for the given entity type.
var ErrRecordNotFound = errors.New("record not found")

// PickFields projects props onto the requested fields. Fields absent from
// props are left out of the result.
func PickFields(props map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if v, ok := props[field]; ok {
			out[field] = v
		}
	}
	return out
}
