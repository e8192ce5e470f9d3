// Package engine implements the control plane of a single media routing
// session: peer admission, endpoint lifecycle, track publication and
// subscription resolution, and the per-track fan-out routing graph.
//
// The engine is a single-goroutine actor. All session state is mutated on
// that goroutine; endpoints and tees run on their own goroutines and talk
// to the engine strictly via asynchronous messages.
package engine

import (
	"sync"

	"github.com/meshrtc/engine/pkg/channel"
	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/event"
	"github.com/meshrtc/engine/pkg/registry"
	"github.com/meshrtc/engine/pkg/routing"
	"github.com/meshrtc/engine/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Queue sizes of the actor's inboxes. Tee notifications are buffered
// generously since the actor itself may trigger them indirectly.
const (
	commandQueueSize      = 64
	notificationQueueSize = 256
)

type Engine struct {
	id        string
	config    Config
	logger    *logrus.Entry
	telemetry *telemetry.Telemetry
	registry  *registry.Registry

	state *state
	graph *routing.Graph

	commands       chan command
	endpointEvents chan channel.Message[endpoint.ID, endpoint.Notification]
	teeEvents      chan channel.Message[track.ID, routing.Notification]

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Start creates a session engine and spins up its main loop.
func Start(config Config) *Engine {
	logger := logrus.WithField("session_id", config.ID)

	labels := append([]attribute.KeyValue{
		attribute.String("session_id", config.ID),
	}, config.TelemetryLabels...)
	tel := telemetry.New(config.TraceContext, "session", labels...)

	teeEvents := make(chan channel.Message[track.ID, routing.Notification], notificationQueueSize)

	engine := &Engine{
		id:             config.ID,
		config:         config,
		logger:         logger,
		telemetry:      tel,
		registry:       registry.New(logger),
		state:          newState(),
		graph:          routing.NewGraph(config.DisplayManager, teeEvents, tel, logger),
		commands:       make(chan command, commandQueueSize),
		endpointEvents: make(chan channel.Message[endpoint.ID, endpoint.Notification], notificationQueueSize),
		teeEvents:      teeEvents,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	go engine.processMessages()
	return engine
}

func (e *Engine) ID() string { return e.id }

// Done is closed once the main loop has terminated and all endpoints have
// been stopped.
func (e *Engine) Done() <-chan struct{} { return e.done }

// sendMediaEvent serializes an outbound Media Event and hands it to the
// observers. Observers see opaque bytes ready for wire transport.
func (e *Engine) sendMediaEvent(out event.Outbound) {
	payload, err := out.Serialize()
	if err != nil {
		e.logger.WithError(err).Errorf("failed to serialize %s event", out.Type)
		return
	}

	e.registry.Dispatch(registry.MediaEvent{To: out.To, Data: payload})
}
