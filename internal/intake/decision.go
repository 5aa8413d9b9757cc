package intake

import (
	"math"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Decision is the extractor's verdict on one user answer. Fields carries
// every reply key other than message and valid exactly as decoded; nothing in
// it is trusted until the current step's transition reads it.
type Decision struct {
	Valid   bool
	Message string
	Fields  map[string]any
}

// Has reports whether key is present with a non-null value.
func (d Decision) Has(key string) bool {
	v, ok := d.Fields[key]
	return ok && v != nil
}

// String returns a non-empty trimmed string field. Numbers are accepted and
// formatted, so a ZIP returned as 12345 still reads as "12345".
func (d Decision) String(key string) (string, bool) {
	v, ok := d.scalar(key)
	if !ok {
		return "", false
	}
	var out string
	if err := mapstructure.WeakDecode(v, &out); err != nil {
		return "", false
	}
	out = strings.TrimSpace(out)
	return out, out != ""
}

// Int returns an integral numeric field. Numeric strings are accepted and
// always read as base 10; fractional values are not.
func (d Decision) Int(key string) (int, bool) {
	v, ok := d.scalar(key)
	if !ok {
		return 0, false
	}
	if str, isString := v.(string); isString {
		n, err := strconv.Atoi(strings.TrimSpace(str))
		return n, err == nil
	}
	if f, isFloat := v.(float64); isFloat && f != math.Trunc(f) {
		return 0, false
	}
	var out int
	if err := mapstructure.WeakDecode(v, &out); err != nil {
		return 0, false
	}
	return out, true
}

// Float returns a numeric field. Numeric strings are accepted.
func (d Decision) Float(key string) (float64, bool) {
	v, ok := d.scalar(key)
	if !ok {
		return 0, false
	}
	var out float64
	if err := mapstructure.WeakDecode(v, &out); err != nil {
		return 0, false
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}

// True reports whether a flag field is present and truthy.
func (d Decision) True(key string) bool {
	v, ok := d.Fields[key]
	if !ok || v == nil {
		return false
	}
	var out bool
	if err := mapstructure.WeakDecode(v, &out); err != nil {
		return false
	}
	return out
}

// YesNo normalizes a yes/no answer to "yes" or "no".
func (d Decision) YesNo(key string) (string, bool) {
	if b, ok := d.Fields[key].(bool); ok {
		if b {
			return "yes", true
		}
		return "no", true
	}
	s, ok := d.String(key)
	if !ok {
		return "", false
	}
	switch strings.ToLower(s) {
	case "yes", "y", "true":
		return "yes", true
	case "no", "n", "false":
		return "no", true
	}
	return "", false
}

// scalar returns the raw value when it is a number or a non-blank string.
func (d Decision) scalar(key string) (any, bool) {
	switch v := d.Fields[key].(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, false
		}
		return v, true
	case float64, float32, int, int64:
		return v, true
	}
	return nil, false
}
