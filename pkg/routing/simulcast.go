package routing

import (
	"sync"

	"github.com/meshrtc/engine/pkg/channel"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// SimulcastTee receives all encodings of a simulcast track and forwards
// exactly one of them to each subscriber branch. Switches are confirmed
// back to the engine through the notification sink so that the subscriber
// can be informed with an `encodingSwitched` Media Event.
type SimulcastTee struct {
	mutex     sync.Mutex
	encodings []track.Encoding
	branches  map[SubscriberID]*simulcastBranch
	// Last observed SSRC per encoding, used to address keyframe requests.
	ssrcs map[track.Encoding]uint32

	notifications *channel.SinkWithSender[track.ID, Notification]
	// Raises an RTCP request toward the publishing endpoint. May be nil.
	requestKeyFrame func(packets []rtcp.Packet)
	logger          *logrus.Entry
}

type simulcastBranch struct {
	sink    Sink
	current track.Encoding
}

func NewSimulcastTee(
	encodings []track.Encoding,
	notifications *channel.SinkWithSender[track.ID, Notification],
	requestKeyFrame func(packets []rtcp.Packet),
	logger *logrus.Entry,
) *SimulcastTee {
	return &SimulcastTee{
		encodings:       encodings,
		branches:        make(map[SubscriberID]*simulcastBranch),
		ssrcs:           make(map[track.Encoding]uint32),
		notifications:   notifications,
		requestKeyFrame: requestKeyFrame,
		logger:          logger,
	}
}

// AddSink attaches a subscriber branch. The preferred encoding is used if
// the track offers it, otherwise the first offered encoding is selected.
func (t *SimulcastTee) AddSink(id SubscriberID, sink Sink, preferred track.Encoding) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	selected := t.encodings[0]
	for _, encoding := range t.encodings {
		if encoding == preferred {
			selected = encoding
			break
		}
	}

	t.branches[id] = &simulcastBranch{sink: sink, current: selected}
}

func (t *SimulcastTee) RemoveSink(id SubscriberID) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.branches, id)
}

// SelectEncoding switches the branch of a subscriber to the given
// encoding. The switch is applied immediately, a keyframe is requested
// from the publisher and the engine is notified.
func (t *SimulcastTee) SelectEncoding(id SubscriberID, encoding track.Encoding) {
	t.mutex.Lock()

	branch := t.branches[id]
	if branch == nil {
		t.mutex.Unlock()
		t.logger.Warnf("no branch for subscriber %s, ignoring encoding selection", id)
		return
	}

	if branch.current == encoding {
		t.mutex.Unlock()
		return
	}

	branch.current = encoding
	ssrc, ssrcKnown := t.ssrcs[encoding]
	keyFrame := t.requestKeyFrame
	t.mutex.Unlock()

	// The new layer starts with a delta frame, so ask the publisher for a
	// keyframe on the selected encoding.
	if keyFrame != nil && ssrcKnown {
		keyFrame([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	}

	if err := t.notifications.Send(EncodingSwitched{ReceiverID: id, Encoding: encoding}); err != nil {
		t.logger.WithError(err).Warn("failed to report encoding switch")
	}
}

func (t *SimulcastTee) WriteRTP(encoding track.Encoding, packet *rtp.Packet) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.ssrcs[encoding] = packet.SSRC

	for id, branch := range t.branches {
		if branch.current != encoding {
			continue
		}
		if err := branch.sink.WriteRTP(packet); err != nil {
			t.logger.WithError(err).Warnf("dropping RTP packet for subscriber %s", id)
		}
	}

	return nil
}

func (t *SimulcastTee) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.branches = make(map[SubscriberID]*simulcastBranch)
	t.notifications.Seal()
}
