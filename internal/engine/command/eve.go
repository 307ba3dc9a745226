package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/sureshkrishnan-v/idsagent/internal/alert"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
)

// ErrIrrelevantEvent is returned for EVE records that carry no alert.
var ErrIrrelevantEvent = errors.New("eve: not an alert or anomaly record")

type eveRecord struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	SrcIP     string `json:"src_ip"`
	SrcPort   *int   `json:"src_port"`
	DestIP    string `json:"dest_ip"`
	DestPort  *int   `json:"dest_port"`
	Alert     *struct {
		Signature string `json:"signature"`
		Category  string `json:"category"`
		Severity  int    `json:"severity"`
	} `json:"alert"`
	Anomaly *struct {
		Type  string `json:"type"`
		Event string `json:"event"`
	} `json:"anomaly"`
}

// ParseEVE maps a Suricata EVE JSON line to an Alert. Alert records get a
// normalized severity, anomaly records carry none. Other record types are
// rejected with ErrIrrelevantEvent.
func ParseEVE(line string) (alert.Alert, error) {
	var r eveRecord
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return alert.Alert{}, fmt.Errorf("decoding eve record: %w", err)
	}

	a := alert.Alert{
		Time:            r.Timestamp,
		SourceIP:        alert.Str(r.SrcIP),
		SourcePort:      port(r.SrcPort),
		DestinationIP:   alert.Str(r.DestIP),
		DestinationPort: port(r.DestPort),
	}
	switch {
	case r.EventType == "alert" && r.Alert != nil:
		a.Type = alert.Str(r.Alert.Category)
		a.Message = alert.Str(r.Alert.Signature)
		a.Severity = alert.Float(alert.NormalizeSeverity(r.Alert.Severity, constants.EVESeverityLevels))
	case r.EventType == "anomaly" && r.Anomaly != nil:
		a.Type = alert.Str(r.Anomaly.Type)
		a.Message = alert.Str(r.Anomaly.Event)
	default:
		return alert.Alert{}, ErrIrrelevantEvent
	}
	return a, nil
}

func port(p *int) *string {
	if p == nil {
		return nil
	}
	s := strconv.Itoa(*p)
	return &s
}
