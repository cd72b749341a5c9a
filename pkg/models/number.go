package models

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Number is a float64 that decodes leniently from JSON. Numbers, numeric
// strings, null and anything unparsable all decode without error; garbage
// becomes zero so one bad field never breaks a whole payload.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number(ParseNumber(string(bytes.Trim(b, `"`))))
	return nil
}

func (n Number) Float64() float64 {
	return float64(n)
}

func (n Number) Decimal() decimal.Decimal {
	return decimal.NewFromFloat(float64(n))
}

// Text decodes a JSON string or number into its string form.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(s)
		return nil
	}
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		raw = ""
	}
	*t = Text(raw)
	return nil
}

// ParseNumber parses s as a decimal number, returning 0 when s is empty or
// unparsable.
func ParseNumber(s string) float64 {
	f, _ := ParseDecimal(s).Float64()
	return f
}

// ParseDecimal parses s exactly, returning zero when s is empty or unparsable.
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
