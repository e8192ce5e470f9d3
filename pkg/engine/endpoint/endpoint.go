// Package endpoint defines the contract between the engine and its media
// processing units. An endpoint runs on its own goroutine in an isolated
// failure domain; it talks to the engine exclusively via asynchronous
// messages.
package endpoint

import (
	"context"
	"fmt"

	"github.com/meshrtc/engine/pkg/channel"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/routing"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// ID of an endpoint. For peer endpoints it equals the peer id.
type ID = string

// Size of the control queue. The engine never blocks on a slow endpoint;
// controls beyond this are dropped with a warning.
const controlQueueSize = 64

// Env is everything a running endpoint needs to interact with the engine.
type Env struct {
	EndpointID ID
	// Controls from the engine, in the order the engine produced them.
	Controls <-chan Control
	// Notify carries notifications back to the engine, stamped with the
	// endpoint id.
	Notify *channel.SinkWithSender[ID, Notification]
}

// Descriptor is the unit of media processing supplied by the application:
// a WebRTC peer binding, an HLS writer, a recorder. Run is expected to
// block until the context is cancelled or the endpoint fails.
type Descriptor interface {
	Run(ctx context.Context, env Env) error
}

// Consumer is implemented by descriptors that subscribe to tracks in a
// remote format and want the RTP stream delivered to them.
type Consumer interface {
	WriteRTP(trackID track.ID, packet *rtp.Packet) error
}

// RawConsumer is implemented by descriptors that subscribe with the raw
// format and receive depayloaded samples.
type RawConsumer interface {
	WriteSample(trackID track.ID, sample []byte) error
}

// Handle is the engine-side representation of a spawned endpoint.
type Handle struct {
	id         ID
	node       string
	descriptor Descriptor
	controls   chan Control
	cancel     context.CancelFunc
	logger     *logrus.Entry
}

// Spawn starts the descriptor on its own goroutine together with a
// completion watcher: when Run returns (or panics), an Exited
// notification is delivered to the engine unless the endpoint was stopped
// deliberately.
func Spawn(
	id ID,
	node string,
	descriptor Descriptor,
	notifications chan<- channel.Message[ID, Notification],
	logger *logrus.Entry,
) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	controls := make(chan Control, controlQueueSize)
	sink := channel.NewSink(id, notifications)

	handle := &Handle{
		id:         id,
		node:       node,
		descriptor: descriptor,
		controls:   controls,
		cancel:     cancel,
		logger:     logger,
	}

	go func() {
		err := runGuarded(ctx, descriptor, Env{EndpointID: id, Controls: controls, Notify: sink})

		// A cancelled context means the engine initiated the shutdown;
		// anything else is reported back, crash or clean exit alike.
		if ctx.Err() == nil {
			if sendErr := sink.Send(Exited{Err: err}); sendErr != nil {
				logger.WithError(sendErr).Warn("failed to report endpoint exit")
			}
		}
		sink.Seal()
	}()

	return handle
}

func runGuarded(ctx context.Context, descriptor Descriptor, env Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("endpoint panicked: %v", r)
		}
	}()

	return descriptor.Run(ctx, env)
}

func (h *Handle) ID() ID { return h.id }

// Node returns the deployment locality hint supplied at admission.
func (h *Handle) Node() string { return h.node }

// Send delivers a control message without blocking. Controls to an
// overloaded endpoint are dropped with a warning.
func (h *Handle) Send(control Control) {
	select {
	case h.controls <- control:
	default:
		h.logger.Warnf("control queue full, dropping %T", control)
	}
}

// Stop cancels the endpoint's context. Exit notifications produced after
// Stop are suppressed by the watcher.
func (h *Handle) Stop() {
	h.cancel()
}

// TrackSink returns the sink through which a fulfilled subscription
// delivers RTP to this endpoint. Descriptors that do not consume RTP get
// a discarding sink.
func (h *Handle) TrackSink(trackID track.ID) routing.Sink {
	consumer, ok := h.descriptor.(Consumer)
	if !ok {
		h.logger.Warnf("endpoint does not consume RTP, discarding track %s", trackID)
		return discardSink{}
	}
	return &consumerSink{trackID: trackID, consumer: consumer}
}

// RawTrackSink is the raw-format counterpart of TrackSink.
func (h *Handle) RawTrackSink(trackID track.ID) routing.RawSink {
	consumer, ok := h.descriptor.(RawConsumer)
	if !ok {
		h.logger.Warnf("endpoint does not consume samples, discarding track %s", trackID)
		return discardSink{}
	}
	return &rawConsumerSink{trackID: trackID, consumer: consumer}
}

type consumerSink struct {
	trackID  track.ID
	consumer Consumer
}

func (s *consumerSink) WriteRTP(packet *rtp.Packet) error {
	return s.consumer.WriteRTP(s.trackID, packet)
}

type rawConsumerSink struct {
	trackID  track.ID
	consumer RawConsumer
}

func (s *rawConsumerSink) WriteSample(sample []byte) error {
	return s.consumer.WriteSample(s.trackID, sample)
}

type discardSink struct{}

func (discardSink) WriteRTP(*rtp.Packet) error { return nil }
func (discardSink) WriteSample([]byte) error   { return nil }
