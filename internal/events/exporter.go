// Package events forwards delivery and sync events from the bus to Kafka.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/matheus3301/courier/internal/bus"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Namespaces exported by default.
var DefaultNamespaces = []string{"message.", "sync.", "chat."}

// Writer is the part of *kafka.Writer the exporter uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Envelope is the JSON value of an exported record.
type Envelope struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Exporter copies bus events to a Kafka topic. Export is best-effort: a
// failed write is logged and the event dropped.
type Exporter struct {
	bus        *bus.Bus
	w          Writer
	namespaces []string
	logger     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExporter creates an exporter. A nil writer yields a disabled exporter
// whose Start and Stop do nothing.
func NewExporter(b *bus.Bus, w Writer, logger *zap.Logger, namespaces ...string) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces
	}
	return &Exporter{bus: b, w: w, namespaces: namespaces, logger: logger}
}

// Enabled reports whether the exporter has somewhere to write.
func (e *Exporter) Enabled() bool { return e.w != nil }

// Start subscribes to the bus and exports until Stop.
func (e *Exporter) Start(ctx context.Context) {
	if !e.Enabled() {
		e.logger.Info("event export disabled")
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	for _, ns := range e.namespaces {
		ch, unsub := e.bus.Subscribe(ns, 256)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case evt := <-ch:
					e.export(ctx, evt)
				}
			}
		}()
	}
}

func (e *Exporter) export(ctx context.Context, evt bus.Event) {
	value, err := json.Marshal(Envelope{Kind: evt.Kind, Timestamp: evt.Timestamp, Payload: evt.Payload})
	if err != nil {
		e.logger.Warn("encode event", zap.String("kind", evt.Kind), zap.Error(err))
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg := kafka.Message{Key: []byte(Key(evt)), Value: value, Time: evt.Timestamp}
	if err := e.w.WriteMessages(wctx, msg); err != nil && ctx.Err() == nil {
		e.logger.Warn("export event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// Key partitions message events by chat so a chat's events stay ordered.
func Key(evt bus.Event) string {
	if ref, ok := evt.Payload.(bus.MessageRef); ok && ref.ChatID != "" {
		return ref.ChatID
	}
	return evt.Kind
}

// Stop ends export and closes the writer.
func (e *Exporter) Stop() error {
	if !e.Enabled() {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	return e.w.Close()
}
