package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// IntValue returns the DB config value for key as an int, or def when unset or malformed.
func IntValue(key string, def int) int {
	raw, ok := DBConfigValue(key)
	if !ok {
		return def
	}
	if parsed, okParse := parseInt(raw); okParse {
		return parsed
	}
	return def
}

// StringValue returns the DB config value for key as a string, or def when unset or empty.
func StringValue(key, def string) string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return def
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return def
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return def
	}
	var wrapper struct {
		Value string `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && strings.TrimSpace(wrapper.Value) != "" {
		return strings.TrimSpace(wrapper.Value)
	}
	return def
}

func parseInt(raw json.RawMessage) (int, bool) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseInt(wrapper.Value)
	}
	return 0, false
}
