package endpoint

import (
	"encoding/json"

	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/routing"
	"github.com/pion/rtcp"
)

// Control messages sent by the engine to an endpoint. A type switch over
// `Control` stands in for a sum type.
type Control interface{}

// SetDisplayManager tells the endpoint whether the session runs with a
// display manager. Sent once right after the endpoint is admitted.
type SetDisplayManager struct {
	Enabled bool
}

// NewTracks announces tracks published by other endpoints that this
// endpoint may subscribe to.
type NewTracks struct {
	Tracks []track.Track
}

// RemoveTracks withdraws previously announced tracks. For a given track,
// a NewTracks control always precedes its RemoveTracks.
type RemoveTracks struct {
	Tracks []track.Track
}

// TrackLinked hands the publishing endpoint the writing end of the
// routing graph once its track has been wired in.
type TrackLinked struct {
	TrackID track.ID
	Input   routing.Input
}

// KeyFrameRequest asks the publisher to produce a keyframe on one of its
// tracks, typically after a simulcast encoding switch.
type KeyFrameRequest struct {
	TrackID track.ID
	Packets []rtcp.Packet
}

// CustomEvent passes an opaque `custom` Media Event from the endpoint's
// peer through to the endpoint.
type CustomEvent struct {
	Data json.RawMessage
}

// Notifications sent by an endpoint back to the engine.
type Notification interface{}

// TrackReady reports that a previously published track has media flowing
// and can be wired into the routing graph. RID identifies the simulcast
// layer and is empty for non-simulcast tracks.
type TrackReady struct {
	TrackID     track.ID
	RID         track.Encoding
	Codec       string
	Depayloader track.Depayloader
}

// PublishedTracks announces tracks this endpoint intends to publish. The
// tracks stay inactive until their TrackReady arrives.
type PublishedTracks struct {
	Tracks []track.Track
}

// RemovedTracks withdraws published tracks.
type RemovedTracks struct {
	TrackIDs []track.ID
}

// CustomMediaEvent is an opaque payload the endpoint wants delivered to
// its peer as a `custom` Media Event.
type CustomMediaEvent struct {
	Data json.RawMessage
}

// Exited is produced by the completion watcher, never by descriptors.
// A non-nil error (including a recovered panic) marks a crash.
type Exited struct {
	Err error
}
