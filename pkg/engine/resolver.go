package engine

import (
	"errors"

	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/event"
	"github.com/meshrtc/engine/pkg/routing"
	"github.com/pion/rtcp"
	"golang.org/x/exp/slices"
)

// processPublishedTracks merges freshly published tracks into the
// publisher's inbound set as inactive placeholders and announces them to
// the other endpoints. Peers only learn about tracks once they are
// active, so the broadcast is restricted accordingly.
func (e *Engine) processPublishedTracks(publisherID endpoint.ID, tracks []track.Track) {
	record := e.state.endpoints[publisherID]
	if record == nil {
		e.logger.Warnf("no such endpoint %s, dropping published tracks", publisherID)
		return
	}

	announced := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		if existing, _ := e.state.trackByID(t.ID); existing != nil {
			e.logger.Warnf("track %s already exists, ignoring publication", t.ID)
			continue
		}

		t.EndpointID = publisherID
		t.Active = false
		copied := t
		record.tracks[t.ID] = &copied
		announced = append(announced, copied)

		e.logger.Infof("endpoint %s published track %s", publisherID, t.ID)
	}

	if len(announced) == 0 {
		return
	}

	for id, other := range e.state.endpoints {
		if id != publisherID {
			other.handle.Send(endpoint.NewTracks{Tracks: announced})
		}
	}

	e.broadcastActiveTracks(record, announced)
}

// broadcastActiveTracks emits `tracksAdded` for the subset of the given
// tracks that is active.
func (e *Engine) broadcastActiveTracks(record *endpointRecord, tracks []track.Track) {
	trackIDToMetadata := make(map[string]any)
	for _, t := range tracks {
		if t.Active {
			trackIDToMetadata[t.ID] = t.Metadata
		}
	}
	if len(trackIDToMetadata) == 0 {
		return
	}

	e.sendMediaEvent(event.TracksAdded(e.ownerID(record), trackIDToMetadata))
}

// ownerID is the peer id a track is attributed to in Media Events; for
// standalone endpoints it falls back to the endpoint id.
func (e *Engine) ownerID(record *endpointRecord) string {
	if record.peerID != "" {
		return record.peerID
	}
	return record.handle.ID()
}

// processRemovedTracks withdraws published tracks: subscribers receive a
// RemoveTracks control, peers a `tracksRemoved` event, and the routing
// nodes are torn down together with their raw branches.
func (e *Engine) processRemovedTracks(publisherID endpoint.ID, trackIDs []track.ID) {
	record := e.state.endpoints[publisherID]
	if record == nil {
		e.logger.Warnf("no such endpoint %s, dropping removed tracks", publisherID)
		return
	}

	removed := make([]string, 0, len(trackIDs))
	for _, trackID := range trackIDs {
		t := record.tracks[trackID]
		if t == nil {
			e.logger.Warnf("endpoint %s does not own track %s, ignoring removal", publisherID, trackID)
			continue
		}

		for _, subscriberID := range e.state.subscribersOf(trackID) {
			if other := e.state.endpoints[subscriberID]; other != nil {
				other.handle.Send(endpoint.RemoveTracks{Tracks: []track.Track{*t}})
			}
		}

		e.graph.RemoveNode(trackID)
		e.state.dropActiveFor(trackID)
		e.state.dropPendingFor(trackID)
		delete(record.tracks, trackID)

		if t.Active {
			removed = append(removed, trackID)
		}
	}

	if len(removed) > 0 {
		e.sendMediaEvent(event.TracksRemoved(e.ownerID(record), removed))
	}
}

// processTrackReady wires a published track into the routing graph and
// drains the pending subscriptions waiting for it, in insertion order.
// The resulting graph edits are committed as one atomic batch.
func (e *Engine) processTrackReady(publisherID endpoint.ID, msg endpoint.TrackReady) {
	record := e.state.endpoints[publisherID]
	if record == nil {
		e.logger.Warnf("no such endpoint %s, dropping track ready", publisherID)
		return
	}

	t := record.tracks[msg.TrackID]
	if t == nil {
		e.logger.Warnf("endpoint %s does not own track %s, dropping track ready", publisherID, msg.TrackID)
		return
	}

	if msg.RID != "" && !t.OffersEncoding(msg.RID) {
		e.logger.Warnf("track %s does not offer encoding %s, dropping track ready", msg.TrackID, msg.RID)
		return
	}

	t.Codec = msg.Codec
	if msg.Depayloader != nil {
		t.Depayloader = msg.Depayloader
	}

	if t.Active {
		// Another simulcast layer of an already-wired track; the node
		// exists, nothing to announce.
		e.logger.Debugf("layer %s of track %s ready", msg.RID, msg.TrackID)
		return
	}
	t.Active = true

	handle := record.handle
	node := e.graph.AddNode(t, func(packets []rtcp.Packet) {
		handle.Send(endpoint.KeyFrameRequest{TrackID: msg.TrackID, Packets: packets})
	})
	handle.Send(endpoint.TrackLinked{TrackID: msg.TrackID, Input: node.Input()})

	e.logger.Infof("track %s is ready", msg.TrackID)

	// Drain the pending subscriptions of this track FIFO; all edges of
	// the drain are installed together.
	edits := &routing.Edits{}
	fulfilled := make([]*subscription, 0)
	for _, sub := range e.state.drainPending(msg.TrackID) {
		if err := e.stageFulfillment(edits, node, sub); err != nil {
			e.logger.WithError(err).Warnf("dropping pending subscription of %s", sub.endpointID)
			continue
		}
		fulfilled = append(fulfilled, sub)
	}
	edits.Commit()
	for _, sub := range fulfilled {
		e.state.setActive(sub)
	}

	e.broadcastActiveTracks(record, []track.Track{*t})
}

// stageFulfillment stages the graph edits that turn a subscription
// active: the subscriber branch and, for raw subscriptions, the one-time
// depayloading branch.
func (e *Engine) stageFulfillment(
	edits *routing.Edits,
	node *routing.Node,
	sub *subscription,
) error {
	subscriber := e.state.endpoints[sub.endpointID]
	if subscriber == nil {
		return ErrInvalidArguments
	}

	if sub.format == track.FormatRaw {
		return node.StageAttachRaw(edits, sub.endpointID, subscriber.handle.RawTrackSink(sub.trackID))
	}

	node.StageAttach(
		edits,
		sub.endpointID,
		subscriber.handle.TrackSink(sub.trackID),
		track.Encoding(sub.opts.DefaultSimulcastEncoding),
	)
	return nil
}

// subscribe validates a subscription request and either fulfills it
// immediately (the track's tee exists) or records it as pending. The
// returned error is the synchronous reply to the caller; a nil reply for
// a fulfilled subscription is sent only after its edits are committed.
func (e *Engine) subscribe(
	endpointID endpoint.ID,
	trackID track.ID,
	format track.Format,
	opts SubscribeOptions,
) error {
	t, _ := e.state.trackByID(trackID)
	if t == nil {
		return ErrInvalidTrackID
	}

	if !t.SupportsFormat(format) {
		return ErrInvalidFormat
	}

	if t.Simulcast() && opts.DefaultSimulcastEncoding != "" &&
		!t.OffersEncoding(track.Encoding(opts.DefaultSimulcastEncoding)) {
		return ErrInvalidDefaultSimulcastEncoding
	}

	if e.state.endpoints[endpointID] == nil {
		return ErrInvalidArguments
	}

	if e.state.activeSubscription(endpointID, trackID) != nil {
		e.logger.Warnf("endpoint %s is already subscribed to track %s", endpointID, trackID)
		return nil
	}

	sub := &subscription{endpointID: endpointID, trackID: trackID, format: format, opts: opts}

	node := e.graph.Node(trackID)
	if node == nil {
		e.state.addPending(sub)
		e.logger.Debugf("subscription of %s to %s is pending", endpointID, trackID)
		return nil
	}

	edits := &routing.Edits{}
	if err := e.stageFulfillment(edits, node, sub); err != nil {
		// A ready track without a depayloader cannot serve raw
		// subscribers even though raw is among its formats.
		if errors.Is(err, routing.ErrNoDepayloader) {
			return ErrInvalidFormat
		}
		return err
	}
	edits.Commit()
	e.state.setActive(sub)

	return nil
}

// processSelectEncoding validates a subscriber's request to switch the
// forwarded simulcast encoding and forwards it to the track's tee.
func (e *Engine) processSelectEncoding(subscriberID string, msg event.SelectEncoding) {
	encoding := track.Encoding(msg.Encoding)

	if e.state.activeSubscription(subscriberID, msg.TrackID) == nil {
		e.logger.Warnf("peer %s has no active subscription for track %s, rejecting encoding selection",
			subscriberID, msg.TrackID)
		return
	}

	t, owner := e.state.trackByID(msg.TrackID)
	if t == nil || e.ownerID(owner) != msg.PeerID {
		e.logger.Warnf("peer %s does not own track %s, rejecting encoding selection", msg.PeerID, msg.TrackID)
		return
	}

	if !t.OffersEncoding(encoding) {
		e.logger.Warnf("track %s does not offer encoding %s, rejecting encoding selection",
			msg.TrackID, msg.Encoding)
		return
	}

	node := e.graph.Node(msg.TrackID)
	if node == nil || node.SimulcastTee() == nil {
		e.logger.Warnf("track %s has no simulcast tee, rejecting encoding selection", msg.TrackID)
		return
	}

	// The tee runs on its own scheduler; the selection is forwarded as an
	// asynchronous control message.
	tee := node.SimulcastTee()
	go tee.SelectEncoding(subscriberID, encoding)
}

// processEncodingSwitched relays a tee's switch confirmation to the
// receiving peer.
func (e *Engine) processEncodingSwitched(trackID track.ID, msg routing.EncodingSwitched) {
	t, owner := e.state.trackByID(trackID)
	if t == nil {
		return
	}

	e.sendMediaEvent(event.EncodingSwitched(
		msg.ReceiverID,
		e.ownerID(owner),
		trackID,
		string(msg.Encoding),
	))
}

// processCustomMediaEvent forwards an endpoint's opaque payload to its
// peer as a `custom` Media Event.
func (e *Engine) processCustomMediaEvent(endpointID endpoint.ID, msg endpoint.CustomMediaEvent) {
	record := e.state.endpoints[endpointID]
	if record == nil {
		return
	}
	if record.peerID == "" {
		e.logger.Warnf("standalone endpoint %s has no peer, dropping custom media event", endpointID)
		return
	}

	e.sendMediaEvent(event.CustomEvent(record.peerID, msg.Data))
}

// setTracksPriority throttles the filter-tee branches of an endpoint that
// are not among its prioritized tracks and informs the peer.
func (e *Engine) setTracksPriority(endpointID endpoint.ID, trackIDs []track.ID) {
	record := e.state.endpoints[endpointID]
	if record == nil {
		e.logger.Warnf("no such endpoint %s, ignoring tracks priority", endpointID)
		return
	}

	for trackID := range e.state.active[endpointID] {
		node := e.graph.Node(trackID)
		if node == nil {
			continue
		}
		if tee := node.FilterTee(); tee != nil {
			tee.SetPaused(endpointID, !slices.Contains(trackIDs, trackID))
		}
	}

	if record.peerID != "" {
		e.sendMediaEvent(event.TracksPriority(record.peerID, trackIDs))
	}
}
