// Package registry implements the per-engine observer table: an
// in-process pub/sub over which the engine publishes its messages
// (admission requests, media events, crash reports) to external
// observers, typically transport adapters.
package registry

import (
	"sync"
	"time"

	"github.com/meshrtc/engine/pkg/worker"
	"github.com/sirupsen/logrus"
)

// Size of the per-observer delivery queue. A slow observer starts losing
// messages once its queue fills up; it never back-pressures the engine.
const observerQueueSize = 256

// Message is anything the engine dispatches to its observers.
type Message interface{}

// NewPeer asks the application to decide on the admission of a peer.
type NewPeer struct {
	PeerID   string
	Metadata any
}

// PeerLeft reports that a peer has left or has been removed.
type PeerLeft struct {
	PeerID string
}

// EndpointCrashed reports the abnormal termination of an endpoint.
type EndpointCrashed struct {
	EndpointID string
}

// MediaEvent carries a serialized Media Event ready for wire transport.
// `To` is either a peer id or `event.Broadcast`.
type MediaEvent struct {
	To   string
	Data []byte
}

// Observer receives engine messages. Callbacks are invoked on a dedicated
// goroutine per observer, in dispatch order.
type Observer interface {
	OnEngineMessage(message Message)
}

// Registry is the observer table of a single engine. Registration is
// idempotent per observer; dispatch is fire-and-forget.
type Registry struct {
	mutex     sync.Mutex
	observers map[Observer]*worker.Worker[Message]
	logger    *logrus.Entry
}

func New(logger *logrus.Entry) *Registry {
	return &Registry{
		observers: make(map[Observer]*worker.Worker[Message]),
		logger:    logger,
	}
}

// Register adds an observer. Registering the same observer twice does not
// duplicate deliveries.
func (r *Registry) Register(observer Observer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, found := r.observers[observer]; found {
		return
	}

	r.observers[observer] = worker.StartWorker(worker.Config[Message]{
		ChannelSize: observerQueueSize,
		Timeout:     time.Minute,
		OnTimeout:   func() {},
		OnTask:      observer.OnEngineMessage,
	})
}

// Unregister removes an observer and stops its delivery queue.
func (r *Registry) Unregister(observer Observer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if w, found := r.observers[observer]; found {
		w.Stop()
		delete(r.observers, observer)
	}
}

// Dispatch sends a message to every registered observer without blocking.
// Messages to overloaded observers are dropped with a warning.
func (r *Registry) Dispatch(message Message) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for observer, w := range r.observers {
		if err := w.Send(message); err != nil {
			r.logger.WithError(err).Warnf("dropping engine message %T for observer %T", message, observer)
		}
	}
}

// Close stops all observer queues.
func (r *Registry) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for observer, w := range r.observers {
		w.Stop()
		delete(r.observers, observer)
	}
}
