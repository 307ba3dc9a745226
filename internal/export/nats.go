package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/idsagent/internal/config"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
	"github.com/sureshkrishnan-v/idsagent/internal/event"
)

// wireEvent is the JSON wire format (flat, compact).
type wireEvent struct {
	Type        string             `json:"type"`
	Timestamp   int64              `json:"ts"`
	ContainerID int                `json:"container_id"`
	Labels      map[string]string  `json:"l,omitempty"`
	Numerics    map[string]float64 `json:"n,omitempty"`
}

type outMsg struct {
	subject string
	data    []byte
}

// NATSExporter mirrors lifecycle events into a JetStream stream, one subject
// per event type (<prefix>.<type>).
type NATSExporter struct {
	cfg    config.NATSConfig
	logger *zap.Logger
	bus    *event.Bus
	events <-chan *event.Event

	nc      *nats.Conn
	publish func(subject string, data []byte) error

	batch []outMsg
	mu    sync.Mutex
}

// NewNATSExporter creates a NATS exporter. It subscribes to the bus right
// away so events published before Start are buffered. cfg.EventTypes, when
// set, limits the subscription to those types.
func NewNATSExporter(cfg config.NATSConfig, bus *event.Bus, logger *zap.Logger) *NATSExporter {
	types, err := event.ParseTypes(cfg.EventTypes)
	if err != nil {
		logger.Warn("Ignoring NATS event type filter", zap.Error(err))
		types = nil
	}
	return &NATSExporter{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		events: bus.SubscribeTypes(constants.ExporterNATS, types...),
		batch:  make([]outMsg, 0, cfg.BatchSize),
	}
}

func (e *NATSExporter) Name() string { return constants.ExporterNATS }

func (e *NATSExporter) Start(ctx context.Context) error {
	nc, err := nats.Connect(e.cfg.URL,
		nats.Name("idsagent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			e.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			e.logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      e.cfg.Stream,
		Subjects:  []string{e.cfg.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxBytes:  constants.NATSStreamMaxBytes,
		Discard:   jetstream.DiscardOld,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return err
	}

	e.mu.Lock()
	e.nc = nc
	e.publish = nc.Publish
	e.mu.Unlock()

	return e.run(ctx)
}

// run consumes events until ctx is done or the bus closes.
func (e *NATSExporter) run(ctx context.Context) error {
	go e.flusher(ctx)

	e.logger.Info("NATS exporter started",
		zap.String("url", e.cfg.URL),
		zap.String("subjects", e.cfg.SubjectPrefix+".>"))

	for {
		select {
		case <-ctx.Done():
			e.flush()
			return ctx.Err()
		case evt, ok := <-e.events:
			if !ok {
				e.flush()
				return nil
			}
			e.enqueue(evt)
		}
	}
}

func (e *NATSExporter) Stop(_ context.Context) error {
	e.flush()
	e.mu.Lock()
	nc := e.nc
	e.mu.Unlock()
	if nc != nil {
		return nc.Drain()
	}
	return nil
}

func (e *NATSExporter) encode(evt *event.Event) (outMsg, error) {
	data, err := json.Marshal(wireEvent{
		Type:        evt.Type.String(),
		Timestamp:   evt.Timestamp.UnixMilli(),
		ContainerID: evt.ContainerID,
		Labels:      evt.Labels,
		Numerics:    evt.Numeric,
	})
	if err != nil {
		return outMsg{}, err
	}
	return outMsg{subject: e.cfg.SubjectPrefix + "." + evt.Type.String(), data: data}, nil
}

func (e *NATSExporter) enqueue(evt *event.Event) {
	msg, err := e.encode(evt)
	if err != nil {
		e.logger.Debug("Dropping unencodable event", zap.Stringer("type", evt.Type), zap.Error(err))
		return
	}

	e.mu.Lock()
	e.batch = append(e.batch, msg)
	full := len(e.batch) >= e.cfg.BatchSize
	e.mu.Unlock()

	if full {
		e.flush()
	}
}

func (e *NATSExporter) flush() {
	e.mu.Lock()
	if len(e.batch) == 0 || e.publish == nil {
		e.mu.Unlock()
		return
	}
	batch := e.batch
	publish, nc := e.publish, e.nc
	e.batch = make([]outMsg, 0, e.cfg.BatchSize)
	e.mu.Unlock()

	var errs []error
	for _, m := range batch {
		if err := publish(m.subject, m.data); err != nil {
			errs = append(errs, err)
		}
	}
	if nc != nil {
		if err := nc.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		e.logger.Warn("NATS publish failed",
			zap.Int("batch", len(batch)),
			zap.Error(errors.Join(errs...)))
	}
}

func (e *NATSExporter) flusher(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flush()
		}
	}
}
