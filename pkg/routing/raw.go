package routing

import (
	"sync"

	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// Reserved branch id under which the raw branch attaches to the tee, so
// that it can never collide with an endpoint id.
const rawBranchID SubscriberID = "\x00raw"

// rawBranch is the one-time depayloading branch of a track node:
// tee -> depayloader -> raw fan-out. Subscribers requesting the raw format
// attach here instead of the tee itself.
type rawBranch struct {
	mutex  sync.Mutex
	depay  track.Depayloader
	sinks  map[SubscriberID]RawSink
	logger *logrus.Entry
}

func newRawBranch(depay track.Depayloader, logger *logrus.Entry) *rawBranch {
	return &rawBranch{
		depay:  depay,
		sinks:  make(map[SubscriberID]RawSink),
		logger: logger,
	}
}

// WriteRTP makes the branch attachable to a tee like any other sink.
func (b *rawBranch) WriteRTP(packet *rtp.Packet) error {
	sample, err := b.depay(packet)
	if err != nil {
		b.logger.WithError(err).Warn("failed to depayload RTP packet")
		return nil
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	for id, sink := range b.sinks {
		if err := sink.WriteSample(sample); err != nil {
			b.logger.WithError(err).Warnf("dropping sample for subscriber %s", id)
		}
	}

	return nil
}

func (b *rawBranch) addSink(id SubscriberID, sink RawSink) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.sinks[id] = sink
}

func (b *rawBranch) removeSink(id SubscriberID) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.sinks, id)
}

func (b *rawBranch) close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.sinks = make(map[SubscriberID]RawSink)
}
