package routing

import (
	"sync"

	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// PushTee broadcasts every incoming packet to all attached subscriber
// branches. Used for non-simulcast tracks when no display manager is
// configured.
type PushTee struct {
	mutex  sync.Mutex
	sinks  map[SubscriberID]Sink
	logger *logrus.Entry
}

func NewPushTee(logger *logrus.Entry) *PushTee {
	return &PushTee{
		sinks:  make(map[SubscriberID]Sink),
		logger: logger,
	}
}

func (t *PushTee) AddSink(id SubscriberID, sink Sink, _ track.Encoding) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.sinks[id] = sink
}

func (t *PushTee) RemoveSink(id SubscriberID) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.sinks, id)
}

func (t *PushTee) WriteRTP(_ track.Encoding, packet *rtp.Packet) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for id, sink := range t.sinks {
		if err := sink.WriteRTP(packet); err != nil {
			// A failing subscriber must not affect the remaining fan-out.
			t.logger.WithError(err).Warnf("dropping RTP packet for subscriber %s", id)
		}
	}

	return nil
}

func (t *PushTee) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.sinks = make(map[SubscriberID]Sink)
}
