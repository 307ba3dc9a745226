// Package alert defines the normalized alert representation every engine
// adapter maps its native log lines to.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// TimestampLayout is the layout engine parsers use for Alert.Time.
const TimestampLayout = "2006-01-02T15:04:05.000000-0700"

// Alert is one detected anomaly. Optional fields are nil when the engine
// did not report them and are encoded as JSON null.
type Alert struct {
	Time            string   `json:"time"`
	SourceIP        *string  `json:"source_ip"`
	SourcePort      *string  `json:"source_port"`
	DestinationIP   *string  `json:"destination_ip"`
	DestinationPort *string  `json:"destination_port"`
	Severity        *float64 `json:"severity"`
	Type            *string  `json:"type"`
	Message         *string  `json:"message"`
}

// String returns a readable one-line rendering of the alert.
func (a Alert) String() string {
	return fmt.Sprintf("%s, From: %s:%s, To: %s:%s, Type: %s, Content: %s, Severity: %s",
		a.Time,
		deref(a.SourceIP), deref(a.SourcePort),
		deref(a.DestinationIP), deref(a.DestinationPort),
		deref(a.Type), deref(a.Message), severityString(a.Severity))
}

// Validate reports whether the alert satisfies the normalized-form invariants.
func (a Alert) Validate() error {
	if a.Severity == nil {
		return nil
	}
	s := *a.Severity
	if math.IsNaN(s) || s < 0 || s > 1 {
		return fmt.Errorf("severity %v outside [0, 1]", s)
	}
	return nil
}

// UnmarshalJSON accepts ports written as strings or numbers. Unknown keys
// are ignored.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	var raw struct {
		plain
		SourcePort      json.RawMessage `json:"source_port"`
		DestinationPort json.RawMessage `json:"destination_port"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Alert(raw.plain)
	var err error
	if out.SourcePort, err = port(raw.SourcePort); err != nil {
		return fmt.Errorf("source_port: %w", err)
	}
	if out.DestinationPort, err = port(raw.DestinationPort); err != nil {
		return fmt.Errorf("destination_port: %w", err)
	}
	*a = out
	return nil
}

func port(raw json.RawMessage) (*string, error) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil, nil
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, err
		}
		return Str(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return nil, fmt.Errorf("want string or number, got %s", v)
	}
	return Str(n.String()), nil
}

// reprReplacer turns a Python dict repr into JSON.
var reprReplacer = strings.NewReplacer("None", "null", "'", `"`)

// Parse decodes one alert line. Lines that are not valid JSON are retried
// as Python dict reprs (single quotes, None).
func Parse(line string) (Alert, error) {
	var a Alert
	if err := json.Unmarshal([]byte(line), &a); err != nil {
		if rerr := json.Unmarshal([]byte(reprReplacer.Replace(line)), &a); rerr != nil {
			return Alert{}, fmt.Errorf("decoding alert: %w", err)
		}
	}
	if err := a.Validate(); err != nil {
		return Alert{}, err
	}
	return a, nil
}

// NormalizeSeverity maps an engine priority in [1, levels] (1 = most severe)
// onto [0, 1] rounded to two decimals. Out-of-range priorities clamp.
func NormalizeSeverity(priority, levels int) float64 {
	if levels <= 1 {
		return 1
	}
	if priority < 1 {
		priority = 1
	}
	if priority > levels {
		priority = levels
	}
	v := 1 - float64(priority-1)/float64(levels-1)
	return math.Round(v*100) / 100
}

// Str returns a pointer to s, or nil for an empty string.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}

func deref(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}

func severityString(f *float64) string {
	if f == nil {
		return "None"
	}
	return fmt.Sprintf("%g", *f)
}
