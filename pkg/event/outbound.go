package event

import "encoding/json"

// Outbound is a Media Event produced by the engine together with its
// target: either a single peer id or `Broadcast`.
type Outbound struct {
	To   string
	Type string
	Data any
}

// Serialize renders the event into the opaque wire payload handed to
// observers. The target is intentionally not part of the payload.
func (o Outbound) Serialize() ([]byte, error) {
	data, err := json.Marshal(o.Data)
	if err != nil {
		return nil, err
	}

	return json.Marshal(mediaEvent{Type: o.Type, Data: data})
}

type peerAcceptedData struct {
	ID          string `json:"id"`
	PeersInRoom []Peer `json:"peersInRoom"`
}

// PeerAccepted carries the newcomer's id and a snapshot of the other peers
// together with the metadata of their active tracks.
func PeerAccepted(to string, peersInRoom []Peer) Outbound {
	if peersInRoom == nil {
		peersInRoom = []Peer{}
	}
	return Outbound{To: to, Type: "peerAccepted", Data: peerAcceptedData{ID: to, PeersInRoom: peersInRoom}}
}

func PeerDenied(to string, data any) Outbound {
	return Outbound{To: to, Type: "peerDenied", Data: data}
}

func PeerJoined(peer Peer) Outbound {
	return Outbound{To: Broadcast, Type: "peerJoined", Data: struct {
		Peer Peer `json:"peer"`
	}{peer}}
}

func PeerLeft(peerID string) Outbound {
	return Outbound{To: Broadcast, Type: "peerLeft", Data: struct {
		PeerID string `json:"peerId"`
	}{peerID}}
}

func PeerUpdated(peerID string, metadata any) Outbound {
	return Outbound{To: Broadcast, Type: "peerUpdated", Data: struct {
		PeerID   string `json:"peerId"`
		Metadata any    `json:"metadata"`
	}{peerID, metadata}}
}

// PeerRemoved is targeted at the removed peer itself, carrying the reason.
func PeerRemoved(peerID, reason string) Outbound {
	return Outbound{To: peerID, Type: "peerRemoved", Data: struct {
		PeerID string `json:"peerId"`
		Reason string `json:"reason"`
	}{peerID, reason}}
}

func TracksAdded(peerID string, trackIDToMetadata map[string]any) Outbound {
	return Outbound{To: Broadcast, Type: "tracksAdded", Data: struct {
		PeerID            string         `json:"peerId"`
		TrackIDToMetadata map[string]any `json:"trackIdToMetadata"`
	}{peerID, trackIDToMetadata}}
}

func TracksRemoved(peerID string, trackIDs []string) Outbound {
	return Outbound{To: Broadcast, Type: "tracksRemoved", Data: struct {
		PeerID   string   `json:"peerId"`
		TrackIDs []string `json:"trackIds"`
	}{peerID, trackIDs}}
}

func TrackUpdated(peerID, trackID string, metadata any) Outbound {
	return Outbound{To: Broadcast, Type: "trackUpdated", Data: struct {
		PeerID   string `json:"peerId"`
		TrackID  string `json:"trackId"`
		Metadata any    `json:"metadata"`
	}{peerID, trackID, metadata}}
}

// TracksPriority lists the track ids the display manager considers
// prioritized, in descending order of importance.
func TracksPriority(to string, trackIDs []string) Outbound {
	return Outbound{To: to, Type: "tracksPriority", Data: struct {
		TrackIDs []string `json:"trackIds"`
	}{trackIDs}}
}

// EncodingSwitched informs a subscriber which simulcast encoding of a
// track it is receiving from now on.
func EncodingSwitched(to, peerID, trackID, encoding string) Outbound {
	return Outbound{To: to, Type: "encodingSwitched", Data: struct {
		PeerID   string `json:"peerId"`
		TrackID  string `json:"trackId"`
		Encoding string `json:"encoding"`
	}{peerID, trackID, encoding}}
}

// CustomEvent wraps an endpoint-defined payload addressed to its peer.
func CustomEvent(to string, data json.RawMessage) Outbound {
	return Outbound{To: to, Type: "custom", Data: data}
}
