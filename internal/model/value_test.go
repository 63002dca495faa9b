package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseFieldValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		kind ValueKind
		text string
	}{
		{"currency", "$250,000", KindNumber, "250000"},
		{"suffix k", "45k", KindNumber, "45000"},
		{"suffix m", "1.2M", KindNumber, "1200000"},
		{"plain number", "12", KindNumber, "12"},
		{"bool yes", "Yes", KindBool, "true"},
		{"bool false", "false", KindBool, "false"},
		{"iso date", "2024-03-01", KindDate, "2024-03-01"},
		{"us date", "03/01/2024", KindDate, "2024-03-01"},
		{"word ending in m", "Team", KindString, "Team"},
		{"nan is text", "NaN", KindString, "NaN"},
		{"string", "Salesforce", KindString, "Salesforce"},
		{"empty", "  ", KindUnknown, "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := ParseFieldValue(tt.raw)
			assert.Equal(t, tt.kind, v.Kind)
			assert.Equal(t, tt.text, v.Text())
		})
	}
}

func TestFieldValue_AccessorsDoNotCoerce(t *testing.T) {
	t.Parallel()

	n := NumberValue(10)
	_, ok := n.AsString()
	assert.False(t, ok)
	f, ok := n.AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 10.0, f)

	s := StringValue("10")
	_, ok = s.AsNumber()
	assert.False(t, ok)

	d := DateValue(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	_, ok = d.AsBool()
	assert.False(t, ok)
	got, ok := d.AsDate()
	assert.True(t, ok)
	assert.Equal(t, 2024, got.Year())
}

func TestFieldValue_IsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, StringValue(" ").IsEmpty())
	assert.True(t, UnknownValue("").IsEmpty())
	assert.False(t, NumberValue(0).IsEmpty())
	assert.False(t, BoolValue(false).IsEmpty())
}

func TestFromAny(t *testing.T) {
	t.Parallel()

	var decoded map[string]any
	err := json.Unmarshal([]byte(`{"a":"$1,000","b":3.5,"c":true,"d":null,"e":{"x":1}}`), &decoded)
	assert.NoError(t, err)

	assert.Equal(t, KindNumber, FromAny(decoded["a"]).Kind)
	assert.Equal(t, 3.5, FromAny(decoded["b"]).Num)
	assert.Equal(t, KindBool, FromAny(decoded["c"]).Kind)
	assert.Equal(t, KindUnknown, FromAny(decoded["d"]).Kind)
	assert.Equal(t, `{"x":1}`, FromAny(decoded["e"]).Raw)
}
