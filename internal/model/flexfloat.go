package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexFloat decodes a JSON number that an upstream system may encode as a
// JSON number, a quoted string, null, or omit entirely. It is used for both
// exchange payloads (OKX quotes every numeric field as a string) and LLM
// decision payloads (models are inconsistent about quoting numbers).
type FlexFloat float64

func (f FlexFloat) Float64() float64 { return float64(f) }

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("flexfloat: %w", err)
		}
		return f.fromString(s)
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flexfloat: %w", err)
	}
	return f.assign(n)
}

func (f *FlexFloat) fromString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flexfloat: cannot parse %q: %w", s, err)
	}
	return f.assign(n)
}

func (f *FlexFloat) assign(n float64) error {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("flexfloat: non-finite value %v", n)
	}
	*f = FlexFloat(n)
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(f))
}

// ParseFloatStr parses a raw numeric string the way FlexFloat does, for call
// sites that already hold a string (e.g. optional exchange fields) rather
// than raw JSON bytes.
func ParseFloatStr(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// DecimalPlaces returns the number of digits after the decimal point in a
// raw numeric string, used to preserve the exchange's reported precision
// for display purposes after the value has been parsed into a float64.
func DecimalPlaces(raw string) int {
	idx := strings.IndexByte(raw, '.')
	if idx < 0 {
		return 0
	}
	return len(raw) - idx - 1
}
