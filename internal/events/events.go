// Package events publishes scene store notifications on an in-process
// watermill pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	TopicScenesChanged  = "scenes.changed"
	TopicAutosaveFailed = "autosave.failed"
)

// Change reasons carried by ScenesChanged.
const (
	ReasonUpsert = "upsert"
	ReasonDelete = "delete"
	ReasonBind   = "bind"
	ReasonImport = "import"
	ReasonLoad   = "load"
)

// ScenesChanged is published after every committed mutation.
type ScenesChanged struct {
	Reason  string `json:"reason"`
	ID      string `json:"id,omitempty"`
	Version uint64 `json:"version"`
	Count   int    `json:"count"`
}

// AutosaveFailed is published when a background write to the bound file fails.
type AutosaveFailed struct {
	Target string `json:"target"`
	Error  string `json:"error"`
}

// Bus wraps a GoChannel pub/sub.
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus creates an in-process bus. A nil logger discards watermill's logs.
func NewBus(logger *slog.Logger) *Bus {
	var adapter watermill.LoggerAdapter = watermill.NopLogger{}
	if logger != nil {
		adapter = slogAdapter{logger: logger}
	}
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, adapter),
	}
}

func (b *Bus) publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", topic, err)
	}
	if err := b.pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), data)); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) PublishScenesChanged(ev ScenesChanged) error {
	return b.publish(TopicScenesChanged, ev)
}

func (b *Bus) PublishAutosaveFailed(ev AutosaveFailed) error {
	return b.publish(TopicAutosaveFailed, ev)
}

// Subscribe returns the message stream for topic. Every message must be
// acked before the next one is delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, topic)
}

// Close stops delivery and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// Decode unmarshals and acks msg.
func Decode[T any](msg *message.Message) (T, error) {
	var v T
	defer msg.Ack()
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("decoding event %s: %w", msg.UUID, err)
	}
	return v, nil
}

// slogAdapter routes watermill's logs into slog. Trace maps to Debug.
type slogAdapter struct {
	logger *slog.Logger
}

func attrs(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func (a slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(attrs(fields), "error", err)...)
}

func (a slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, attrs(fields)...)
}

func (a slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, attrs(fields)...)
}

func (a slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return slogAdapter{logger: a.logger.With(attrs(fields)...)}
}
