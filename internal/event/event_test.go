package event

import "testing"

func TestEventType_String(t *testing.T) {
	tests := []struct {
		t    EventType
		want string
	}{
		{TypeAnalysisStarted, "analysis_started"},
		{TypeAnalysisFinished, "analysis_finished"},
		{TypeAlertsForwarded, "alerts_forwarded"},
		{TypeReportFailed, "report_failed"},
		{TypeReportSent, "report_sent"},
		{TypeResourceSample, "resource_sample"},
		{TypeProcessesTracked, "processes_tracked"},
		{TypeUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestParseType(t *testing.T) {
	for typ := TypeAnalysisStarted; typ <= TypeProcessesTracked; typ++ {
		got, err := ParseType(typ.String())
		if err != nil || got != typ {
			t.Errorf("ParseType(%q) = %v, %v; want %v", typ.String(), got, err, typ)
		}
	}
	for _, bad := range []string{"unknown", "", "Report_Sent"} {
		if _, err := ParseType(bad); err == nil {
			t.Errorf("ParseType(%q) should fail", bad)
		}
	}

	types, err := ParseTypes([]string{"report_sent", "report_failed"})
	if err != nil || len(types) != 2 || types[0] != TypeReportSent || types[1] != TypeReportFailed {
		t.Errorf("ParseTypes = %v, %v", types, err)
	}
	if types, err := ParseTypes(nil); err != nil || len(types) != 0 {
		t.Errorf("ParseTypes(nil) = %v, %v", types, err)
	}
}

func TestNew_LabelsAndNumerics(t *testing.T) {
	e := New(TypeAlertsForwarded, 3).
		SetLabel("analysis_type", "static").
		SetNumeric("alerts", 42)

	if e.ContainerID != 3 {
		t.Errorf("ContainerID = %d, want 3", e.ContainerID)
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if e.Label("analysis_type") != "static" {
		t.Error("Label not set")
	}
	if e.NumericVal("alerts") != 42 {
		t.Error("Numeric not set")
	}
	if e.Label("missing") != "" || e.NumericVal("missing") != 0 {
		t.Error("missing keys should return zero values")
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Close()

	ch := bus.Subscribe("test")

	bus.Publish(New(TypeAnalysisStarted, 42))

	received := <-ch
	if received.Type != TypeAnalysisStarted {
		t.Errorf("got type %v, want TypeAnalysisStarted", received.Type)
	}
	if received.ContainerID != 42 {
		t.Errorf("got container %d, want 42", received.ContainerID)
	}
}

func TestBus_DropOnOverflow(t *testing.T) {
	bus := NewBus(2, nil) // tiny buffer
	defer bus.Close()

	bus.Subscribe("slow")

	for i := 0; i < 10; i++ {
		bus.Publish(New(TypeResourceSample, i))
	}

	stats := bus.Stats()
	if stats.Published != 10 {
		t.Errorf("published = %d, want 10", stats.Published)
	}
	if dropped := stats.DroppedBySubscriber["slow"]; dropped != 8 {
		t.Errorf("dropped = %d, want 8", dropped)
	}
	if bus.Dropped() != 8 {
		t.Errorf("Dropped() = %d, want 8", bus.Dropped())
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Close()

	ch1 := bus.Subscribe("sub1")
	ch2 := bus.Subscribe("sub2")

	bus.Publish(New(TypeAnalysisFinished, 1))

	r1 := <-ch1
	r2 := <-ch2
	if r1.Type != TypeAnalysisFinished || r2.Type != TypeAnalysisFinished {
		t.Error("both subscribers should receive the event")
	}
}

func TestBus_SubscribeTypes(t *testing.T) {
	bus := NewBus(1, nil)
	defer bus.Close()

	all := bus.Subscribe("all")
	reports := bus.SubscribeTypes("reports", TypeReportSent, TypeReportFailed)

	bus.Publish(New(TypeResourceSample, 1))
	bus.Publish(New(TypeReportFailed, 1))

	if got := (<-all).Type; got != TypeResourceSample {
		t.Errorf("all got %v, want resource_sample", got)
	}
	if got := (<-reports).Type; got != TypeReportFailed {
		t.Errorf("reports got %v, want report_failed", got)
	}

	// Filtered-out events are not drops; the full "all" buffer is.
	stats := bus.Stats()
	if stats.DroppedBySubscriber["reports"] != 0 {
		t.Errorf("reports dropped = %d, want 0", stats.DroppedBySubscriber["reports"])
	}
	if stats.DroppedBySubscriber["all"] != 1 {
		t.Errorf("all dropped = %d, want 1", stats.DroppedBySubscriber["all"])
	}
}

func TestBus_SubscribeTypesWithoutTypesReceivesAll(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()

	ch := bus.SubscribeTypes("any")
	bus.Publish(New(TypeProcessesTracked, 1))
	if got := (<-ch).Type; got != TypeProcessesTracked {
		t.Errorf("got %v, want processes_tracked", got)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(4, nil)
	ch := bus.Subscribe("sub")
	bus.Close()
	bus.Close() // idempotent

	bus.Publish(New(TypeReportSent, 1))

	if _, ok := <-ch; ok {
		t.Error("expected closed channel with no events")
	}
	if bus.Published() != 0 {
		t.Errorf("published = %d, want 0", bus.Published())
	}
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	bus.Publish(New(TypeReportSent, 1)) // must not panic
}

func BenchmarkBus_Publish(b *testing.B) {
	bus := NewBus(8192, nil)
	defer bus.Close()
	bus.Subscribe("bench")

	e := New(TypeResourceSample, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(e)
	}
}
