package stats

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Report is one entry of a stats collection, keyed by the W3C stat names
// ("type", "id", "timestamp", "bytesReceived", ...).
type Report map[string]any

// Type returns the report's "type" tag
func (r Report) Type() string {
	return r.String("type")
}

// ID returns the report's "id"
func (r Report) ID() string {
	return r.String("id")
}

// Timestamp returns the report timestamp in milliseconds
func (r Report) Timestamp() float64 {
	v, _ := r.Float("timestamp")
	return v
}

// Has reports whether the stat is present and not null
func (r Report) Has(name string) bool {
	v, ok := r[name]
	return ok && v != nil
}

// String returns the stat as a string, or "" when absent
func (r Report) String(name string) string {
	switch v := r[name].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Float returns a numeric stat. Numeric strings are accepted since some
// engines report counters as strings.
func (r Report) Float(name string) (float64, bool) {
	switch v := r[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func (r Report) uintStat(name string) uint64 {
	v, ok := r.Float(name)
	if !ok || v < 0 {
		return 0
	}
	return uint64(v)
}

func (r Report) intStat(name string) int64 {
	v, _ := r.Float(name)
	return int64(v)
}

func (r Report) floatStat(name string) float64 {
	v, _ := r.Float(name)
	return v
}

// FindReport returns the last report of type typ. When name is non-empty the
// report must carry that stat; when val is non-nil the stat must equal it.
func FindReport(reports []Report, typ, name string, val any) (Report, bool) {
	var result Report
	for _, report := range reports {
		if report.Type() != typ {
			continue
		}
		if name != "" {
			if !report.Has(name) {
				continue
			}
			if val != nil && report.String(name) != fmt.Sprint(val) {
				continue
			}
		}
		result = report
	}
	return result, result != nil
}

// ExtractInt returns stat name of the report with type typ as an integer.
// A value of -1 is treated as absent.
func ExtractInt(reports []Report, typ, name string) (int64, bool) {
	report, ok := FindReport(reports, typ, name, nil)
	if !ok {
		return 0, false
	}
	v, ok := report.Float(name)
	if !ok || v == -1 {
		return 0, false
	}
	return int64(v), true
}
