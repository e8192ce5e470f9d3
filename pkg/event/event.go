// Package event implements the Media Event protocol that binds client
// libraries to the engine. Events are JSON on the wire but opaque bytes at
// the engine boundary: the transport only ever sees serialized payloads.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Broadcast is the target of an outbound event addressed to every peer in
// the session rather than to a single one.
const Broadcast = "broadcast"

// Errors returned by the codec.
var (
	ErrMalformedEvent = errors.New("malformed media event")
	ErrUnknownType    = errors.New("unknown media event type")
)

// mediaEvent is the wire envelope shared by inbound and outbound events.
type mediaEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Peer is the snapshot of a peer as carried by Media Events.
type Peer struct {
	ID                string         `json:"id"`
	Metadata          any            `json:"metadata"`
	TrackIDToMetadata map[string]any `json:"trackIdToMetadata,omitempty"`
}

// Inbound events (client -> engine). A type switch over `Inbound` is the
// idiomatic stand-in for a sum type.
type Inbound interface{}

type Join struct {
	Metadata any `json:"metadata"`
}

type Leave struct{}

type UpdatePeerMetadata struct {
	Metadata any `json:"metadata"`
}

type UpdateTrackMetadata struct {
	TrackID  string `json:"trackId"`
	Metadata any    `json:"metadata"`
}

type SelectEncoding struct {
	PeerID   string `json:"peerId"`
	TrackID  string `json:"trackId"`
	Encoding string `json:"encoding"`
}

// Custom is passed through to the endpoint owned by the sending peer.
type Custom struct {
	Data json.RawMessage
}

// Parse decodes the opaque bytes received from a peer into a typed inbound
// event. Deserialization failures are reported as `ErrMalformedEvent`.
func Parse(payload []byte) (Inbound, error) {
	var raw mediaEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}

	switch raw.Type {
	case "join":
		var ev Join
		if err := unmarshalData(raw.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case "leave":
		return Leave{}, nil
	case "updatePeerMetadata":
		var ev UpdatePeerMetadata
		if err := unmarshalData(raw.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case "updateTrackMetadata":
		var ev UpdateTrackMetadata
		if err := unmarshalData(raw.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case "selectEncoding":
		var ev SelectEncoding
		if err := unmarshalData(raw.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case "custom":
		return Custom{Data: raw.Data}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
}

func unmarshalData(data json.RawMessage, into any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}
	return nil
}
