package util

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// TruncatePolicy limits how much of a payload is rendered in logs.
type TruncatePolicy struct {
	// MaxTotal caps the rendered output length in bytes.
	MaxTotal int
	// MaxElements caps the number of elements shown per array.
	MaxElements int
	// MaxString caps the length of every string value.
	MaxString int
}

var DefaultTruncatePolicy = TruncatePolicy{
	MaxTotal:    1500,
	MaxElements: 10,
	MaxString:   100,
}

// Truncate renders a JSON payload for display using DefaultTruncatePolicy.
func Truncate(payload []byte) string {
	return DefaultTruncatePolicy.Truncate(payload)
}

// Truncate renders payload for display. Valid JSON has its arrays and strings
// shortened before the total cap is applied; anything else is capped as text.
func (p TruncatePolicy) Truncate(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return p.capTotal(string(payload))
	}

	byt, err := json.Marshal(p.walk(v))
	if err != nil {
		return p.capTotal(string(payload))
	}
	return p.capTotal(string(byt))
}

func (p TruncatePolicy) walk(v any) any {
	switch val := v.(type) {
	case string:
		return truncateString(val, p.MaxString)
	case []any:
		n := len(val)
		if p.MaxElements > 0 && n > p.MaxElements {
			out := make([]any, 0, p.MaxElements+1)
			for _, item := range val[:p.MaxElements] {
				out = append(out, p.walk(item))
			}
			return append(out, fmt.Sprintf("... %d more items", n-p.MaxElements))
		}
		out := make([]any, n)
		for i, item := range val {
			out[i] = p.walk(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = p.walk(item)
		}
		return out
	default:
		return v
	}
}

func (p TruncatePolicy) capTotal(s string) string {
	return truncateString(s, p.MaxTotal)
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
