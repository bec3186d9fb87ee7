package eventbus

// Event is a keyed message. Events with the same Key are handled in
// publish order.
type Event struct {
	Topic   string `json:"topic"`
	Key     string `json:"key"`
	Payload any    `json:"payload"`
}

// Handler handles one event.
type Handler func(event *Event) error

// partition is one ordered queue, drained by a single goroutine.
type partition struct {
	id    int
	queue chan *Event
}
