package track

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"golang.org/x/exp/slices"
)

// ID uniquely identifies a track within a session.
type ID = string

// Format is a delivery format a subscriber may request for a track.
// `FormatRaw` is understood by the engine itself (it spawns a depayloading
// branch); any other format is opaque and forwarded as-is.
type Format string

const FormatRaw Format = "raw"

// Encoding identifies a single simulcast layer of a track, e.g. "l", "m", "h".
type Encoding string

// Depayloader strips the codec-specific RTP framing off a packet and
// returns the raw media payload. It is supplied by the publishing endpoint
// once the track is ready.
type Depayloader func(packet *rtp.Packet) ([]byte, error)

// Metadata is free-form, application-owned data attached to a track.
type Metadata = any

// Track describes a single media stream published by one endpoint.
type Track struct {
	ID         ID
	EndpointID string
	// Kind of the media carried by the track (audio or video).
	Kind webrtc.RTPCodecType
	// The primary encoding (codec tag) of the track, e.g. "opus" or "vp8".
	Codec string
	// Delivery formats the publisher accepts for this track.
	Formats []Format
	// SimulcastLayer encodings offered by the track. Empty for non-simulcast tracks.
	Encodings []Encoding
	// Whether the owner has reported the track as ready. Only active
	// tracks are visible to subscribers.
	Active   bool
	Metadata Metadata
	// Set when the track becomes ready.
	Depayloader Depayloader
}

// Simulcast reports whether the track carries multiple encodings.
func (t *Track) Simulcast() bool {
	return len(t.Encodings) > 0
}

// SupportsFormat reports whether the track accepts the given delivery format.
func (t *Track) SupportsFormat(format Format) bool {
	return slices.Contains(t.Formats, format)
}

// OffersEncoding reports whether the track offers the given simulcast encoding.
func (t *Track) OffersEncoding(encoding Encoding) bool {
	return slices.Contains(t.Encodings, encoding)
}
