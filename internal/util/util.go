// Package util provides string helpers for arguments sent by the host engine.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// FixEscapeQuotes replaces escaped double quotes ("") with single double quotes (").
func FixEscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// CleanArgs returns a copy of args with surrounding quotes trimmed and escaped quotes fixed.
func CleanArgs(args []string) []string {
	out := make([]string, len(args))
	for i, v := range args {
		out[i] = FixEscapeQuotes(TrimQuotes(v))
	}
	return out
}

// ParseBool accepts the spellings hosts use for booleans: true/false, 1/0 and
// numeric strings like "1.00".
func ParseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, fmt.Errorf("ParseBool: %q is not a boolean", s)
	}
	return f != 0, nil
}

// ParseFloatList parses "[1,2,3]" or "1,2,3" into its numbers.
func ParseFloatList(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("ParseFloatList: element %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}
