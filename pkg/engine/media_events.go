package engine

import (
	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/event"
)

// processMediaEvent parses an inbound Media Event and routes it to the
// responsible handler. Deserialization failures and events from unknown
// peers are logged and dropped; the connection is never terminated.
func (e *Engine) processMediaEvent(peerID string, payload []byte) {
	parsed, err := event.Parse(payload)
	if err != nil {
		e.logger.WithError(err).Warnf("dropping malformed media event from peer %s", peerID)
		return
	}

	// Everything but `join` requires an admitted peer.
	if _, isJoin := parsed.(event.Join); !isJoin {
		if _, found := e.state.peers[peerID]; !found {
			e.logger.Warnf("dropping %T from unknown peer %s", parsed, peerID)
			return
		}
	}

	switch ev := parsed.(type) {
	case event.Join:
		e.processJoin(peerID, ev)
	case event.Leave:
		e.removePeer(peerID, "")
	case event.UpdatePeerMetadata:
		e.processUpdatePeerMetadata(peerID, ev)
	case event.UpdateTrackMetadata:
		e.processUpdateTrackMetadata(peerID, ev)
	case event.SelectEncoding:
		e.processSelectEncoding(peerID, ev)
	case event.Custom:
		e.processCustomEvent(peerID, ev)
	default:
		e.logger.Errorf("unhandled media event type: %T", ev)
	}
}

func (e *Engine) processUpdatePeerMetadata(peerID string, ev event.UpdatePeerMetadata) {
	peer := e.state.peers[peerID]
	peer.metadata = ev.Metadata
	e.sendMediaEvent(event.PeerUpdated(peerID, ev.Metadata))
}

// processUpdateTrackMetadata updates the metadata of a track owned by the
// sender's endpoint. References to other endpoints' tracks are rejected.
func (e *Engine) processUpdateTrackMetadata(peerID string, ev event.UpdateTrackMetadata) {
	record := e.state.endpoints[peerID]
	if record == nil {
		e.logger.Warnf("peer %s has no endpoint, dropping track metadata update", peerID)
		return
	}

	t := record.tracks[ev.TrackID]
	if t == nil {
		e.logger.Warnf("peer %s does not own track %s, dropping metadata update", peerID, ev.TrackID)
		return
	}

	t.Metadata = ev.Metadata
	e.sendMediaEvent(event.TrackUpdated(peerID, ev.TrackID, ev.Metadata))
}

// processCustomEvent passes an opaque payload through to the peer's
// endpoint.
func (e *Engine) processCustomEvent(peerID string, ev event.Custom) {
	peer := e.state.peers[peerID]
	record := e.state.endpoints[peer.endpointID]
	if record == nil {
		e.logger.Warnf("peer %s has no endpoint, dropping custom event", peerID)
		return
	}

	record.handle.Send(endpoint.CustomEvent{Data: ev.Data})
}
