package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ParseNumbers decodes the "numbers" form field, a JSON array.
// Elements that are not JSON strings are kept as their raw text; the relay
// then fails them individually instead of rejecting the whole batch.
func ParseNumbers(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNoNumbers
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		var v any
		if json.Unmarshal([]byte(raw), &v) == nil {
			return nil, ErrNoNumbers
		}
		return nil, ErrInvalidNumbers
	}
	if len(items) == 0 {
		return nil, ErrNoNumbers
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = bytes.TrimSpace(it)
		// null would decode into "" and pass as a string.
		if len(it) > 0 && it[0] == '"' {
			var s string
			if err := json.Unmarshal(it, &s); err == nil {
				out = append(out, strings.TrimSpace(s))
				continue
			}
		}
		out = append(out, string(it))
	}
	return out, nil
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
