package export

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/config"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
)

type recordedMsg struct {
	subject string
	data    []byte
}

type publishRecorder struct {
	mu   sync.Mutex
	msgs []recordedMsg
	err  error
}

func (r *publishRecorder) publish(subject string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, recordedMsg{subject, data})
	return r.err
}

func (r *publishRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestNATS(t *testing.T, batch int) (*NATSExporter, *publishRecorder) {
	t.Helper()
	bus := event.NewBus(constants.MinEventBusBuffer, zap.NewNop())
	t.Cleanup(bus.Close)

	e := NewNATSExporter(config.NATSConfig{
		URL:           constants.NATSDefaultURL,
		Stream:        constants.NATSStream,
		SubjectPrefix: "ids.events",
		BatchSize:     batch,
		FlushInterval: time.Hour,
	}, bus, zap.NewNop())
	rec := &publishRecorder{}
	e.publish = rec.publish
	return e, rec
}

func TestNATS_EncodeWireFormat(t *testing.T) {
	e, _ := newTestNATS(t, 10)

	evt := event.New(event.TypeAlertsForwarded, 4).
		SetLabel(constants.KeyAnalysisType, "network").
		SetNumeric(constants.KeyAlerts, 17)
	evt.Timestamp = time.UnixMilli(1_700_000_000_123)

	msg, err := e.encode(evt)
	require.NoError(t, err)
	assert.Equal(t, "ids.events.alerts_forwarded", msg.subject)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(msg.data, &wire))
	assert.Equal(t, "alerts_forwarded", wire["type"])
	assert.Equal(t, float64(1_700_000_000_123), wire["ts"])
	assert.Equal(t, float64(4), wire["container_id"])
	assert.Equal(t, map[string]any{"analysis_type": "network"}, wire["l"])
	assert.Equal(t, map[string]any{"alerts": float64(17)}, wire["n"])
}

func TestNATS_FlushesWhenBatchFull(t *testing.T) {
	e, rec := newTestNATS(t, 3)

	e.enqueue(event.New(event.TypeReportSent, 1))
	e.enqueue(event.New(event.TypeReportSent, 1))
	assert.Equal(t, 0, rec.count())

	e.enqueue(event.New(event.TypeReportSent, 1))
	assert.Equal(t, 3, rec.count())

	e.enqueue(event.New(event.TypeResourceSample, 1))
	e.flush()
	assert.Equal(t, 4, rec.count())
	assert.Equal(t, "ids.events.resource_sample", rec.msgs[3].subject)
}

func TestNATS_PublishErrorDropsBatch(t *testing.T) {
	e, rec := newTestNATS(t, 10)
	rec.err = errors.New("connection closed")

	e.enqueue(event.New(event.TypeReportFailed, 1))
	e.flush()
	e.flush()

	assert.Equal(t, 1, rec.count())
}

func TestNATS_FlushBeforeConnectKeepsBatch(t *testing.T) {
	e, rec := newTestNATS(t, 10)
	e.publish = nil

	e.enqueue(event.New(event.TypeAnalysisStarted, 1))
	e.flush()

	e.publish = rec.publish
	e.flush()
	assert.Equal(t, 1, rec.count())
}

func TestNATS_StopWithoutConnection(t *testing.T) {
	e, _ := newTestNATS(t, 10)
	e.publish = nil
	assert.NoError(t, e.Stop(t.Context()))
}

func TestNATS_EventTypeFilter(t *testing.T) {
	bus := event.NewBus(constants.MinEventBusBuffer, zap.NewNop())
	t.Cleanup(bus.Close)
	e := NewNATSExporter(config.NATSConfig{
		SubjectPrefix: "ids.events",
		BatchSize:     10,
		FlushInterval: time.Hour,
		EventTypes:    []string{"analysis_finished", "alerts_forwarded"},
	}, bus, zap.NewNop())

	bus.Publish(event.New(event.TypeResourceSample, 1))
	bus.Publish(event.New(event.TypeAnalysisFinished, 1))
	bus.Publish(event.New(event.TypeReportSent, 1))
	bus.Publish(event.New(event.TypeAlertsForwarded, 1))

	require.Len(t, e.events, 2)
	assert.Equal(t, event.TypeAnalysisFinished, (<-e.events).Type)
	assert.Equal(t, event.TypeAlertsForwarded, (<-e.events).Type)
	assert.Zero(t, bus.Dropped())
}

func TestNATS_InvalidEventTypeFilterExportsEverything(t *testing.T) {
	bus := event.NewBus(constants.MinEventBusBuffer, zap.NewNop())
	t.Cleanup(bus.Close)
	e := NewNATSExporter(config.NATSConfig{
		BatchSize:  10,
		EventTypes: []string{"bogus"},
	}, bus, zap.NewNop())

	bus.Publish(event.New(event.TypeResourceSample, 1))
	assert.Len(t, e.events, 1)
}
