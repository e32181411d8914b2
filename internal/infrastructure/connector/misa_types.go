package connector

import (
	"encoding/json"
	"strings"
	"time"
)

// MISAResponse is the common envelope of MISA CRM responses
type MISAResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Total   int             `json:"total"`
}

// misaTimeLayouts are the timestamp formats MISA returns, most specific first
var misaTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseMISATime parses a MISA timestamp. Values without a zone are UTC.
func ParseMISATime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(s, "Z") || hasZoneOffset(s) {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range misaTimeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func hasZoneOffset(s string) bool {
	if len(s) < 6 {
		return false
	}
	tail := s[len(s)-6:]
	return (tail[0] == '+' || tail[0] == '-') && tail[3] == ':'
}

// modifiedAt extracts field from a raw record. ok is false when the field is
// absent or unparsable.
func modifiedAt(raw json.RawMessage, field string) (time.Time, bool) {
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rec); err != nil {
		return time.Time{}, false
	}
	v, found := rec[field]
	if !found {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return time.Time{}, false
	}
	return ParseMISATime(s)
}
