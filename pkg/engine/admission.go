package engine

import (
	"github.com/meshrtc/engine/pkg/event"
	"github.com/meshrtc/engine/pkg/registry"
)

// Peer admission is a handshake with the application: a `join` Media
// Event parks the request in the awaiting table and publishes a NewPeer
// message; AcceptPeer/DenyPeer consume the entry as ordinary commands.
// The actor never blocks while a decision is outstanding.

func (e *Engine) processJoin(peerID string, join event.Join) {
	if _, found := e.state.peers[peerID]; found {
		e.logger.Warnf("peer %s already joined, ignoring join", peerID)
		return
	}

	if _, found := e.state.awaiting[peerID]; found {
		e.logger.Warnf("peer %s is already awaiting an admission decision", peerID)
		return
	}

	e.state.awaiting[peerID] = join
	e.telemetry.AddEvent("peer admission requested")
	e.registry.Dispatch(registry.NewPeer{PeerID: peerID, Metadata: join.Metadata})
}

func (e *Engine) acceptPeer(peerID string) {
	join, found := e.state.awaiting[peerID]
	if !found {
		e.logger.Warnf("no pending admission for peer %s, ignoring accept", peerID)
		return
	}
	delete(e.state.awaiting, peerID)

	e.insertPeer(peerID, join.Metadata)
}

func (e *Engine) denyPeer(peerID string, data any) {
	if _, found := e.state.awaiting[peerID]; !found {
		e.logger.Warnf("no pending admission for peer %s, ignoring deny", peerID)
		return
	}
	delete(e.state.awaiting, peerID)

	e.logger.Infof("peer %s denied", peerID)
	e.sendMediaEvent(event.PeerDenied(peerID, data))
}

// addPeer inserts a peer directly, bypassing the handshake. Used by the
// application-driven admission path.
func (e *Engine) addPeer(peerID string, metadata any) {
	if _, found := e.state.peers[peerID]; found {
		e.logger.Warnf("peer %s already exists, ignoring add", peerID)
		return
	}
	delete(e.state.awaiting, peerID)

	e.insertPeer(peerID, metadata)
}

// insertPeer commits the peer into the state store and announces it. The
// `peerAccepted` snapshot is produced before the `peerJoined` broadcast
// so that what the newcomer sees is causally consistent with what the
// room is told.
func (e *Engine) insertPeer(peerID string, metadata any) {
	e.state.addPeer(peerID, metadata)
	e.logger.Infof("peer %s joined", peerID)
	e.telemetry.AddEvent("peer joined")

	e.sendMediaEvent(event.PeerAccepted(peerID, e.state.peersInRoomExcept(peerID)))
	e.sendMediaEvent(event.PeerJoined(event.Peer{ID: peerID, Metadata: metadata}))
}
