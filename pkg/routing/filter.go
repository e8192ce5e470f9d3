package routing

import (
	"sync"

	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// FilterTee is the tee variant selected for non-simulcast tracks when the
// display manager is enabled. It behaves like a push tee but allows the
// display manager to pause individual branches when a subscriber is under
// bandwidth pressure.
type FilterTee struct {
	mutex  sync.Mutex
	sinks  map[SubscriberID]Sink
	paused map[SubscriberID]bool
	logger *logrus.Entry
}

func NewFilterTee(logger *logrus.Entry) *FilterTee {
	return &FilterTee{
		sinks:  make(map[SubscriberID]Sink),
		paused: make(map[SubscriberID]bool),
		logger: logger,
	}
}

func (t *FilterTee) AddSink(id SubscriberID, sink Sink, _ track.Encoding) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.sinks[id] = sink
}

func (t *FilterTee) RemoveSink(id SubscriberID) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.sinks, id)
	delete(t.paused, id)
}

// SetPaused throttles or resumes the branch of a single subscriber.
func (t *FilterTee) SetPaused(id SubscriberID, paused bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.paused[id] = paused
}

func (t *FilterTee) WriteRTP(_ track.Encoding, packet *rtp.Packet) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for id, sink := range t.sinks {
		if t.paused[id] {
			continue
		}
		if err := sink.WriteRTP(packet); err != nil {
			t.logger.WithError(err).Warnf("dropping RTP packet for subscriber %s", id)
		}
	}

	return nil
}

func (t *FilterTee) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.sinks = make(map[SubscriberID]Sink)
	t.paused = make(map[SubscriberID]bool)
}
