package alert

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAlert_MarshalNullsAbsentFields(t *testing.T) {
	a := Alert{
		Time:     "2024-05-01T10:00:00.000000+0000",
		SourceIP: Str("10.0.0.1"),
		Severity: Float(0.5),
	}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{
		`"source_ip":"10.0.0.1"`,
		`"source_port":null`,
		`"destination_ip":null`,
		`"severity":0.5`,
		`"message":null`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("marshal output %s missing %s", got, want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"full", `{"time":"t","source_ip":"1.1.1.1","source_port":"53","destination_ip":"2.2.2.2","destination_port":"80","severity":0.25,"type":"scan","message":"m"}`, false},
		{"nulls", `{"time":"t","source_ip":null,"severity":null}`, false},
		{"severity too high", `{"time":"t","severity":1.5}`, true},
		{"negative severity", `{"time":"t","severity":-0.1}`, true},
		{"unknown field", `{"time":"t","priority":3,"flow_id":12}`, false},
		{"numeric ports", `{"time":"t","source_port":53,"destination_port":443}`, false},
		{"python repr", `{'time': 't', 'source_ip': None, 'severity': 0.5, 'message': 'x'}`, false},
		{"port object", `{"time":"t","source_port":{"n":1}}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.line)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse_Ports(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		src, dst *string
	}{
		{"strings", `{"time":"t","source_port":"53","destination_port":"80"}`, Str("53"), Str("80")},
		{"numbers", `{"time":"t","source_port":53,"destination_port":8080}`, Str("53"), Str("8080")},
		{"null and absent", `{"time":"t","source_port":null}`, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.line)
			if err != nil {
				t.Fatal(err)
			}
			if deref(a.SourcePort) != deref(tt.src) || deref(a.DestinationPort) != deref(tt.dst) {
				t.Errorf("ports = %s/%s, want %s/%s",
					deref(a.SourcePort), deref(a.DestinationPort), deref(tt.src), deref(tt.dst))
			}
		})
	}
}

func TestParse_PythonRepr(t *testing.T) {
	a, err := Parse(`{'time': '2024-05-01T10:00:00.000000+0000', 'source_ip': '10.0.0.1', 'source_port': 443, 'destination_ip': None, 'destination_port': None, 'severity': None, 'type': 'scan', 'message': 'port scan'}`)
	if err != nil {
		t.Fatal(err)
	}
	if deref(a.SourceIP) != "10.0.0.1" || deref(a.SourcePort) != "443" || a.DestinationIP != nil {
		t.Errorf("unexpected alert %s", a)
	}
	if deref(a.Message) != "port scan" || a.Severity != nil {
		t.Errorf("unexpected alert %s", a)
	}
}

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		priority, levels int
		want             float64
	}{
		{1, 3, 1},
		{2, 3, 0.5},
		{3, 3, 0},
		{4, 4, 0},
		{2, 4, 0.67},
		{0, 3, 1},
		{9, 3, 0},
		{1, 1, 1},
	}
	for _, tt := range tests {
		if got := NormalizeSeverity(tt.priority, tt.levels); got != tt.want {
			t.Errorf("NormalizeSeverity(%d, %d) = %v, want %v", tt.priority, tt.levels, got, tt.want)
		}
	}
}

func TestAlert_String(t *testing.T) {
	a := Alert{Time: "t", SourceIP: Str("1.1.1.1"), SourcePort: Str("53"), Type: Str("dns")}
	want := "t, From: 1.1.1.1:53, To: None:None, Type: dns, Content: None, Severity: None"
	if got := a.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
