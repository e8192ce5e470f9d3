// Package routing maintains the per-track fan-out graph of a session:
// one tee per active track, subscriber branches hanging off it and an
// optional depayloading branch for subscribers that want raw media.
package routing

import (
	"errors"

	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/pion/rtp"
)

// ErrNoDepayloader is returned when a raw-format branch is requested for a
// track whose publisher never supplied a depayloading filter.
var ErrNoDepayloader = errors.New("track has no depayloader")

// SubscriberID identifies a branch of a tee. In practice this is the id of
// the subscribing endpoint.
type SubscriberID = string

// Sink receives the RTP stream selected for a subscriber.
type Sink interface {
	WriteRTP(packet *rtp.Packet) error
}

// RawSink receives depayloaded media samples rather than RTP packets.
type RawSink interface {
	WriteSample(sample []byte) error
}

// Input is the writing end of a track node. It is handed to the publishing
// endpoint once the track is linked into the graph.
type Input interface {
	// WriteRTP feeds one packet of the given simulcast encoding into the
	// graph. The encoding is empty for non-simulcast tracks.
	WriteRTP(encoding track.Encoding, packet *rtp.Packet) error
}

// Tee is a per-track fan-out node. Exactly one tee exists per active track.
type Tee interface {
	AddSink(id SubscriberID, sink Sink, preferred track.Encoding)
	RemoveSink(id SubscriberID)
	WriteRTP(encoding track.Encoding, packet *rtp.Packet) error
	Close()
}

// Notifications emitted by tees toward the engine actor.
type Notification interface{}

// EncodingSwitched is reported by a simulcast tee once a subscriber's
// branch has been switched to another encoding.
type EncodingSwitched struct {
	ReceiverID SubscriberID
	Encoding   track.Encoding
}
