package engine

import (
	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/event"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// peerRecord is the authoritative record of an admitted peer.
type peerRecord struct {
	id       string
	metadata any
	// Id of the attached peer endpoint, empty until one is admitted.
	endpointID endpoint.ID
}

// endpointRecord groups an endpoint handle with its published tracks.
type endpointRecord struct {
	handle *endpoint.Handle
	// Empty for standalone endpoints.
	peerID string
	// Tracks published by this endpoint, active and inactive alike.
	tracks map[track.ID]*track.Track
}

// subscription is an endpoint's desire to receive a track. It lives in
// the pending queue until the track becomes ready, then moves to the
// active table.
type subscription struct {
	endpointID endpoint.ID
	trackID    track.ID
	format     track.Format
	opts       SubscribeOptions
}

// state is the session state store. It is owned by the engine actor and
// never accessed concurrently, hence no locking.
type state struct {
	peers     map[string]*peerRecord
	endpoints map[endpoint.ID]*endpointRecord
	// Join requests awaiting an admission decision, keyed by peer id.
	awaiting map[string]event.Join
	// Pending subscriptions in insertion order.
	pending []*subscription
	// Active subscriptions indexed by subscriber endpoint, then track.
	active map[endpoint.ID]map[track.ID]*subscription
}

func newState() *state {
	return &state{
		peers:     make(map[string]*peerRecord),
		endpoints: make(map[endpoint.ID]*endpointRecord),
		awaiting:  make(map[string]event.Join),
		active:    make(map[endpoint.ID]map[track.ID]*subscription),
	}
}

// addPeer inserts a peer. Returns false if the id is already taken.
func (s *state) addPeer(id string, metadata any) bool {
	if _, found := s.peers[id]; found {
		return false
	}
	s.peers[id] = &peerRecord{id: id, metadata: metadata}
	return true
}

func (s *state) removePeer(id string) *peerRecord {
	peer := s.peers[id]
	delete(s.peers, id)
	return peer
}

// addEndpoint inserts an endpoint record. Returns false on duplicate id.
func (s *state) addEndpoint(id endpoint.ID, record *endpointRecord) bool {
	if _, found := s.endpoints[id]; found {
		return false
	}
	s.endpoints[id] = record
	if record.peerID != "" {
		if peer := s.peers[record.peerID]; peer != nil {
			peer.endpointID = id
		}
	}
	return true
}

func (s *state) removeEndpoint(id endpoint.ID) *endpointRecord {
	record := s.endpoints[id]
	if record == nil {
		return nil
	}
	delete(s.endpoints, id)
	if record.peerID != "" {
		if peer := s.peers[record.peerID]; peer != nil && peer.endpointID == id {
			peer.endpointID = ""
		}
	}
	return record
}

// trackByID looks a track up across all endpoints.
func (s *state) trackByID(id track.ID) (*track.Track, *endpointRecord) {
	for _, record := range s.endpoints {
		if t, found := record.tracks[id]; found {
			return t, record
		}
	}
	return nil, nil
}

// activeTracksExcept returns every active track not owned by the given
// endpoint, i.e. the tracks a freshly admitted endpoint may subscribe to.
func (s *state) activeTracksExcept(endpointID endpoint.ID) []track.Track {
	var tracks []track.Track
	for id, record := range s.endpoints {
		if id == endpointID {
			continue
		}
		for _, t := range record.tracks {
			if t.Active {
				tracks = append(tracks, *t)
			}
		}
	}
	return tracks
}

// peersInRoomExcept builds the snapshot carried by `peerAccepted`: every
// admitted peer but the newcomer, with the metadata of its active tracks.
func (s *state) peersInRoomExcept(peerID string) []event.Peer {
	peers := make([]event.Peer, 0, len(s.peers))
	for id, peer := range s.peers {
		if id == peerID {
			continue
		}

		trackIDToMetadata := make(map[string]any)
		if record := s.endpoints[peer.endpointID]; record != nil {
			for trackID, t := range record.tracks {
				if t.Active {
					trackIDToMetadata[trackID] = t.Metadata
				}
			}
		}

		peers = append(peers, event.Peer{
			ID:                id,
			Metadata:          peer.metadata,
			TrackIDToMetadata: trackIDToMetadata,
		})
	}
	return peers
}

// addPending appends a subscription to the pending queue.
func (s *state) addPending(sub *subscription) {
	s.pending = append(s.pending, sub)
}

// drainPending removes and returns all pending subscriptions targeting
// the given track, preserving insertion order.
func (s *state) drainPending(trackID track.ID) []*subscription {
	var drained []*subscription
	remaining := s.pending[:0]
	for _, sub := range s.pending {
		if sub.trackID == trackID {
			drained = append(drained, sub)
		} else {
			remaining = append(remaining, sub)
		}
	}
	s.pending = remaining
	return drained
}

// dropPendingOf cancels all pending subscriptions of an endpoint.
func (s *state) dropPendingOf(endpointID endpoint.ID) {
	remaining := s.pending[:0]
	for _, sub := range s.pending {
		if sub.endpointID != endpointID {
			remaining = append(remaining, sub)
		}
	}
	s.pending = remaining
}

// dropPendingFor cancels all pending subscriptions targeting a track.
func (s *state) dropPendingFor(trackID track.ID) {
	remaining := s.pending[:0]
	for _, sub := range s.pending {
		if sub.trackID != trackID {
			remaining = append(remaining, sub)
		}
	}
	s.pending = remaining
}

// hasPendingFor reports whether any pending subscription still targets
// the given track.
func (s *state) hasPendingFor(trackID track.ID) bool {
	return slices.IndexFunc(s.pending, func(sub *subscription) bool {
		return sub.trackID == trackID
	}) != -1
}

// setActive records a fulfilled subscription. At most one active
// subscription exists per (endpoint, track).
func (s *state) setActive(sub *subscription) {
	byTrack := s.active[sub.endpointID]
	if byTrack == nil {
		byTrack = make(map[track.ID]*subscription)
		s.active[sub.endpointID] = byTrack
	}
	byTrack[sub.trackID] = sub
}

// activeSubscription returns the active subscription of an endpoint for a
// track, or nil.
func (s *state) activeSubscription(endpointID endpoint.ID, trackID track.ID) *subscription {
	return s.active[endpointID][trackID]
}

// dropActiveOf removes all active subscriptions of an endpoint and
// returns the track ids they referenced.
func (s *state) dropActiveOf(endpointID endpoint.ID) []track.ID {
	byTrack := s.active[endpointID]
	delete(s.active, endpointID)
	return maps.Keys(byTrack)
}

// dropActiveFor removes all active subscriptions targeting a track.
func (s *state) dropActiveFor(trackID track.ID) {
	for _, byTrack := range s.active {
		delete(byTrack, trackID)
	}
}

// subscribersOf returns the endpoints holding an active subscription for
// the given track.
func (s *state) subscribersOf(trackID track.ID) []endpoint.ID {
	var subscribers []endpoint.ID
	for endpointID, byTrack := range s.active {
		if _, found := byTrack[trackID]; found {
			subscribers = append(subscribers, endpointID)
		}
	}
	return subscribers
}
