package label

import (
	"fmt"
	"strings"
	"time"
)

// Layouts of PDS4 date values, most specific first. Values without a zone
// are UTC.
var dateLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-002T15:04:05.999999999Z07:00",
	"2006-002T15:04:05.999999999",
	"2006-002",
	"2006-01",
	"2006",
}

// Placeholders used in labels for unknown dates.
var unknownDates = map[string]struct{}{
	"UNK": {}, "UNKNOWN": {}, "NULL": {}, "N/A": {}, "NONE": {},
}

// Values substituted for unknown dates: stop/end dates become far future,
// everything else far past, so range queries treat them as open.
const (
	unknownStart = "0001-01-01T00:00:00Z"
	unknownStop  = "3000-01-01T00:00:00Z"
)

// NormalizeDate converts a PDS4 date value to an RFC 3339 UTC instant.
// name is the element's local name and only matters for unknown values.
func NormalizeDate(name, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", nil
	}
	if _, ok := unknownDates[strings.ToUpper(v)]; ok {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "stop") || strings.Contains(lower, "end") {
			return unknownStop, nil
		}
		return unknownStart, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q in %s", value, name)
}
