package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the scalar kind held by a FieldValue.
type ValueKind string

const (
	KindString  ValueKind = "string"
	KindNumber  ValueKind = "number"
	KindBool    ValueKind = "bool"
	KindDate    ValueKind = "date"
	KindUnknown ValueKind = "unknown"
)

// FieldValue is a tagged union over the scalar kinds found in raw document
// cells. Consumers must branch on Kind; accessors return ok=false for any
// other kind and never coerce.
type FieldValue struct {
	Kind ValueKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	Bool bool      `json:"bool,omitempty"`
	Date time.Time `json:"date,omitempty"`
	Raw  string    `json:"raw,omitempty"`
}

// StringValue builds a string-kind value.
func StringValue(s string) FieldValue { return FieldValue{Kind: KindString, Str: s, Raw: s} }

// NumberValue builds a number-kind value.
func NumberValue(f float64) FieldValue {
	return FieldValue{Kind: KindNumber, Num: f, Raw: strconv.FormatFloat(f, 'f', -1, 64)}
}

// BoolValue builds a bool-kind value.
func BoolValue(b bool) FieldValue { return FieldValue{Kind: KindBool, Bool: b, Raw: strconv.FormatBool(b)} }

// DateValue builds a date-kind value.
func DateValue(t time.Time) FieldValue {
	return FieldValue{Kind: KindDate, Date: t, Raw: t.Format("2006-01-02")}
}

// UnknownValue keeps raw text whose kind could not be determined.
func UnknownValue(raw string) FieldValue { return FieldValue{Kind: KindUnknown, Raw: raw} }

// AsString returns the string payload when Kind is KindString.
func (v FieldValue) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// AsNumber returns the numeric payload when Kind is KindNumber.
func (v FieldValue) AsNumber() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// AsBool returns the boolean payload when Kind is KindBool.
func (v FieldValue) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// AsDate returns the date payload when Kind is KindDate.
func (v FieldValue) AsDate() (time.Time, bool) {
	if v.Kind != KindDate {
		return time.Time{}, false
	}
	return v.Date, true
}

// IsEmpty reports whether the value carries no usable content.
func (v FieldValue) IsEmpty() bool {
	switch v.Kind {
	case KindString:
		return strings.TrimSpace(v.Str) == ""
	case KindNumber, KindBool, KindDate:
		return false
	default:
		return strings.TrimSpace(v.Raw) == ""
	}
}

// Text renders the value for prompts, fingerprints and display.
func (v FieldValue) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		return v.Date.Format("2006-01-02")
	default:
		return v.Raw
	}
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "2006/01/02", "Jan 2, 2006", "2 Jan 2006", time.RFC3339}

// ParseFieldValue classifies a raw cell. Currency symbols and thousands
// separators are accepted for numbers ("$250,000" → 250000).
func ParseFieldValue(raw string) FieldValue {
	s := strings.TrimSpace(raw)
	if s == "" {
		return UnknownValue(raw)
	}

	switch strings.ToLower(s) {
	case "true", "yes", "y":
		v := BoolValue(true)
		v.Raw = raw
		return v
	case "false", "no", "n":
		v := BoolValue(false)
		v.Raw = raw
		return v
	}

	if f, ok := parseAmount(s); ok {
		v := NumberValue(f)
		v.Raw = raw
		return v
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v := DateValue(t)
			v.Raw = raw
			return v
		}
	}

	v := StringValue(s)
	v.Raw = raw
	return v
}

// FromAny converts a decoded JSON value into a FieldValue.
func FromAny(x any) FieldValue {
	switch t := x.(type) {
	case nil:
		return UnknownValue("")
	case string:
		return ParseFieldValue(t)
	case float64:
		return NumberValue(t)
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return NumberValue(f)
		}
		return UnknownValue(t.String())
	case bool:
		return BoolValue(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return UnknownValue("")
		}
		return UnknownValue(string(b))
	}
}

func parseAmount(s string) (float64, bool) {
	mult := 1.0
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "k"):
		mult = 1_000
		lower = strings.TrimSuffix(lower, "k")
	case strings.HasSuffix(lower, "m"):
		mult = 1_000_000
		lower = strings.TrimSuffix(lower, "m")
	}
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(lower)
	if cleaned == "" || !strings.ContainsAny(cleaned[:1], "0123456789.-+") {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}
