package engine

import (
	"time"

	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/registry"
)

// How long a synchronous Subscribe call waits for the actor's decision.
const subscribeTimeout = 5 * time.Second

// The external control API of the engine. All methods are safe to call
// from any goroutine; they translate into messages for the actor.

// AddEndpoint admits a media processing unit into the session. It fails
// with ErrInvalidArguments if both an endpoint id and a peer id are
// given; a request naming an unknown peer is dropped with a warning.
func (e *Engine) AddEndpoint(descriptor endpoint.Descriptor, opts AddEndpointOptions) error {
	if opts.EndpointID != "" && opts.PeerID != "" {
		return ErrInvalidArguments
	}

	reply := make(chan error, 1)
	if !e.send(addEndpointCommand{descriptor: descriptor, opts: opts, reply: reply}) {
		return ErrEngineClosed
	}

	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrEngineClosed
	}
}

// RemoveEndpoint removes an endpoint from the session. Removing an
// already-gone endpoint is a warning, not an error.
func (e *Engine) RemoveEndpoint(endpointID endpoint.ID) {
	e.send(removeEndpointCommand{endpointID: endpointID})
}

// AddPeer inserts a peer directly, bypassing the join handshake. Intended
// for application-driven admission.
func (e *Engine) AddPeer(peerID string, metadata any) {
	e.send(addPeerCommand{peerID: peerID, metadata: metadata})
}

// RemovePeer removes a peer together with its endpoint and tracks. If a
// reason is given the peer is informed with a `peerRemoved` event first.
func (e *Engine) RemovePeer(peerID, reason string) {
	e.send(removePeerCommand{peerID: peerID, reason: reason})
}

// AcceptPeer resolves a pending join handshake positively.
func (e *Engine) AcceptPeer(peerID string) {
	e.send(acceptPeerCommand{peerID: peerID})
}

// DenyPeer resolves a pending join handshake negatively. The optional
// data is delivered to the applicant inside the `peerDenied` event.
func (e *Engine) DenyPeer(peerID string, data any) {
	e.send(denyPeerCommand{peerID: peerID, data: data})
}

// Register adds an observer of engine messages. Registration is
// idempotent per observer.
func (e *Engine) Register(observer registry.Observer) {
	e.registry.Register(observer)
}

// Unregister removes an observer.
func (e *Engine) Unregister(observer registry.Observer) {
	e.registry.Unregister(observer)
}

// ReceiveMediaEvent feeds a serialized Media Event received from a peer
// into the engine. Malformed payloads are logged and dropped.
func (e *Engine) ReceiveMediaEvent(peerID string, payload []byte) {
	e.send(mediaEventCommand{peerID: peerID, payload: payload})
}

// Subscribe requests the delivery of a track to an endpoint in the given
// format. The call returns once the engine has accepted (or rejected) the
// subscription; acceptance of a not-yet-ready track leaves it pending.
//
// It fails with ErrInvalidTrackID for an unknown track, ErrInvalidFormat
// when the track does not offer the format (or, for raw, never supplied a
// depayloader), ErrInvalidDefaultSimulcastEncoding for a default encoding
// the track does not publish, ErrInvalidArguments for an unknown
// subscriber endpoint and ErrTimeout when the engine does not decide in
// time.
func (e *Engine) Subscribe(
	endpointID endpoint.ID,
	trackID track.ID,
	format track.Format,
	opts SubscribeOptions,
) error {
	reply := make(chan error, 1)
	if !e.send(subscribeCommand{
		endpointID: endpointID,
		trackID:    trackID,
		format:     format,
		opts:       opts,
		reply:      reply,
	}) {
		return ErrEngineClosed
	}

	select {
	case err := <-reply:
		return err
	case <-time.After(subscribeTimeout):
		return ErrTimeout
	case <-e.done:
		return ErrEngineClosed
	}
}

// SetTracksPriority tells the display manager path which tracks an
// endpoint considers prioritized. Branches of non-prioritized tracks are
// throttled on the filter tees.
func (e *Engine) SetTracksPriority(endpointID endpoint.ID, trackIDs []track.ID) {
	e.send(setTracksPriorityCommand{endpointID: endpointID, trackIDs: trackIDs})
}

// Shutdown terminates the session: all endpoints are stopped and the
// routing graph is torn down. Idempotent.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// send enqueues a command unless the engine is shutting down.
func (e *Engine) send(cmd command) bool {
	select {
	case e.commands <- cmd:
		return true
	case <-e.stop:
		return false
	}
}
