package eventbus

import (
	"fmt"
	"log/slog"

	"firestige.xyz/tsnstream/internal/stream"
)

// Notifier forwards engine notifications onto a bus. The topic is the
// object name and the key is "<object>/<id>", so changes to one object are
// delivered in order.
type Notifier struct {
	bus    EventBus
	logger *slog.Logger
}

// NewNotifier returns an engine observer publishing onto bus.
func NewNotifier(bus EventBus) *Notifier {
	return &Notifier{bus: bus, logger: slog.Default().With("component", "notifier")}
}

// Notify implements stream.Observer.
func (n *Notifier) Notify(note stream.Notification) {
	ev := &Event{
		Topic:   string(note.Object),
		Key:     fmt.Sprintf("%s/%d", note.Object, note.ID),
		Payload: note,
	}
	if err := n.bus.Publish(ev); err != nil {
		n.logger.Warn("notification dropped", "object", note.Object, "id", note.ID, "error", err)
	}
}

// SubscribeNotifications registers fn for the stream and collection topics.
func SubscribeNotifications(bus EventBus, fn func(stream.Notification) error) error {
	h := func(ev *Event) error {
		note, ok := ev.Payload.(stream.Notification)
		if !ok {
			return fmt.Errorf("unexpected payload %T on topic %s", ev.Payload, ev.Topic)
		}
		return fn(note)
	}
	for _, topic := range []string{string(stream.ObjectStream), string(stream.ObjectCollection)} {
		if err := bus.Subscribe(topic, h); err != nil {
			return err
		}
	}
	return nil
}

var _ stream.Observer = (*Notifier)(nil)
