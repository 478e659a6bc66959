package enums

import (
	"fmt"
	"slices"
	"strings"
)

// set lists the accepted values of a string enum in declaration order.
type set[T ~string] []T

func (s set[T]) has(v T) bool {
	return slices.Contains(s, v)
}

// parse matches value after trimming and lower-casing. kind names the enum in
// the error.
func (s set[T]) parse(kind, value string) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(value)))
	if s.has(v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}

// values renders the set for error details.
func (s set[T]) values() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}
