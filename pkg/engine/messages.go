package engine

import (
	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/engine/track"
)

// Commands accepted by the engine actor. Each command is processed to
// completion before the next one; replies, where present, are written
// before processing returns.
type command interface{}

type addEndpointCommand struct {
	descriptor endpoint.Descriptor
	opts       AddEndpointOptions
	reply      chan<- error
}

type removeEndpointCommand struct {
	endpointID endpoint.ID
}

type addPeerCommand struct {
	peerID   string
	metadata any
}

type removePeerCommand struct {
	peerID string
	reason string
}

type acceptPeerCommand struct {
	peerID string
}

type denyPeerCommand struct {
	peerID string
	data   any
}

type mediaEventCommand struct {
	peerID  string
	payload []byte
}

type subscribeCommand struct {
	endpointID endpoint.ID
	trackID    track.ID
	format     track.Format
	opts       SubscribeOptions
	reply      chan<- error
}

type setTracksPriorityCommand struct {
	endpointID endpoint.ID
	trackIDs   []track.ID
}
