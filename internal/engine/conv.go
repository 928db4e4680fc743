package engine

import (
	"fmt"
	"math"
	"strconv"
)

// Host property values arrive as decoded JSON: lists are []any, nodes are
// map[string]any, numbers are float64. These helpers pull typed fields out
// without panicking on absent or differently-typed values.

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func fieldStr(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func fieldNum(m map[string]any, key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func fieldInt(m map[string]any, key string) (int, bool) {
	n, ok := fieldNum(m, key)
	return int(n), ok
}

func fieldBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// formatDuration renders seconds as an HH:MM:SS timestamp.
func formatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(seconds + 0.5)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}

// trimFloat formats a float without trailing zeros.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
