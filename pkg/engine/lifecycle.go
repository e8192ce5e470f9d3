package engine

import (
	"github.com/google/uuid"
	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/event"
	"github.com/meshrtc/engine/pkg/registry"
)

func (e *Engine) addEndpoint(descriptor endpoint.Descriptor, opts AddEndpointOptions) error {
	if opts.EndpointID != "" && opts.PeerID != "" {
		return ErrInvalidArguments
	}

	id := opts.EndpointID
	peerID := ""

	if opts.PeerID != "" {
		// A peer endpoint shares the id of its peer. The signaling race
		// where the peer is gone by the time the endpoint arrives is
		// tolerated: the request is dropped, not failed.
		peer := e.state.peers[opts.PeerID]
		if peer == nil {
			e.logger.Warnf("no such peer %s, dropping endpoint", opts.PeerID)
			return nil
		}
		if peer.endpointID != "" {
			e.logger.Warnf("peer %s already has an endpoint, ignoring add", opts.PeerID)
			return nil
		}
		id = opts.PeerID
		peerID = opts.PeerID
	}

	if id == "" {
		id = uuid.NewString()
	}

	if _, found := e.state.endpoints[id]; found {
		e.logger.Warnf("endpoint %s already exists, ignoring add", id)
		return nil
	}

	logger := e.logger.WithField("endpoint_id", id)
	handle := endpoint.Spawn(id, opts.Node, descriptor, e.endpointEvents, logger)

	e.state.addEndpoint(id, &endpointRecord{
		handle: handle,
		peerID: peerID,
		tracks: make(map[track.ID]*track.Track),
	})

	if node := handle.Node(); node != "" {
		logger = logger.WithField("node", node)
	}
	logger.Info("endpoint added")
	e.telemetry.AddEvent("endpoint added")

	handle.Send(endpoint.SetDisplayManager{Enabled: e.config.DisplayManager})
	if tracks := e.state.activeTracksExcept(id); len(tracks) > 0 {
		handle.Send(endpoint.NewTracks{Tracks: tracks})
	}

	return nil
}

func (e *Engine) removeEndpoint(id endpoint.ID) {
	record := e.state.endpoints[id]
	if record == nil {
		e.logger.Warnf("no such endpoint %s, ignoring removal", id)
		return
	}

	e.tearDownEndpoint(id, record)

	if record.peerID != "" {
		if peer := e.state.removePeer(record.peerID); peer != nil {
			e.sendMediaEvent(event.PeerLeft(record.peerID))
			e.registry.Dispatch(registry.PeerLeft{PeerID: record.peerID})
		}
	}
}

func (e *Engine) removePeer(peerID, reason string) {
	peer := e.state.peers[peerID]
	if peer == nil {
		e.logger.Warnf("no such peer %s, ignoring removal", peerID)
		return
	}

	if reason != "" {
		e.sendMediaEvent(event.PeerRemoved(peerID, reason))
	}

	if record := e.state.endpoints[peer.endpointID]; record != nil {
		e.tearDownEndpoint(peer.endpointID, record)
	}

	e.state.removePeer(peerID)
	e.logger.Infof("peer %s left", peerID)
	e.sendMediaEvent(event.PeerLeft(peerID))
	e.registry.Dispatch(registry.PeerLeft{PeerID: peerID})
}

// processEndpointExited handles the completion watcher's report. A nil
// error is a clean termination and equals an explicit removal; anything
// else is a crash that must not take the session down with it.
func (e *Engine) processEndpointExited(id endpoint.ID, err error) {
	record := e.state.endpoints[id]
	if record == nil {
		// The endpoint was removed deliberately; nothing left to do.
		return
	}

	if err == nil {
		e.logger.Infof("endpoint %s terminated", id)
		e.removeEndpoint(id)
		return
	}

	e.logger.WithError(err).Errorf("endpoint %s crashed", id)
	e.telemetry.Fail(err)

	if record.peerID != "" {
		e.sendMediaEvent(event.PeerRemoved(record.peerID, "Internal server error"))
	}
	e.registry.Dispatch(registry.EndpointCrashed{EndpointID: id})

	e.removeEndpoint(id)
}

// tearDownEndpoint detaches an endpoint from the session: its published
// tracks are withdrawn from subscribers, its tees torn down and its own
// subscriptions (pending and active) cancelled.
func (e *Engine) tearDownEndpoint(id endpoint.ID, record *endpointRecord) {
	// Withdraw the endpoint's tracks, but only from endpoints that
	// actually hold an active subscription on them.
	removedByEndpoint := make(map[endpoint.ID][]track.Track)
	removedIDs := make([]string, 0, len(record.tracks))
	for trackID, t := range record.tracks {
		for _, subscriberID := range e.state.subscribersOf(trackID) {
			removedByEndpoint[subscriberID] = append(removedByEndpoint[subscriberID], *t)
		}
		if t.Active {
			removedIDs = append(removedIDs, trackID)
		}
	}

	for subscriberID, tracks := range removedByEndpoint {
		if other := e.state.endpoints[subscriberID]; other != nil {
			other.handle.Send(endpoint.RemoveTracks{Tracks: tracks})
		}
	}

	if len(removedIDs) > 0 {
		owner := record.peerID
		if owner == "" {
			owner = id
		}
		e.sendMediaEvent(event.TracksRemoved(owner, removedIDs))
	}

	// Tear down the routing nodes of the endpoint's tracks.
	for trackID := range record.tracks {
		e.graph.RemoveNode(trackID)
		e.state.dropActiveFor(trackID)
		e.state.dropPendingFor(trackID)
	}

	// Cancel the endpoint's own subscriptions.
	for _, trackID := range e.state.dropActiveOf(id) {
		if node := e.graph.Node(trackID); node != nil {
			node.Detach(id)
		}
	}
	e.state.dropPendingOf(id)

	record.handle.Stop()
	e.state.removeEndpoint(id)
	e.telemetry.AddEvent("endpoint removed")
}
