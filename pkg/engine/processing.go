package engine

import (
	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/routing"
)

// The main loop of the session. Exactly one message is processed to
// completion before the next; this single-consumer discipline is what
// makes the ordering guarantees of the engine tractable.
func (e *Engine) processMessages() {
	defer close(e.done)
	defer e.telemetry.End()
	defer e.registry.Close()

	for {
		select {
		case <-e.stop:
			e.shutdown()
			return
		case cmd := <-e.commands:
			e.processCommand(cmd)
		case msg := <-e.endpointEvents:
			e.processEndpointNotification(msg.Sender, msg.Content)
		case msg := <-e.teeEvents:
			e.processTeeNotification(msg.Sender, msg.Content)
		}
	}
}

func (e *Engine) processCommand(cmd command) {
	switch cmd := cmd.(type) {
	case addEndpointCommand:
		cmd.reply <- e.addEndpoint(cmd.descriptor, cmd.opts)
	case removeEndpointCommand:
		e.removeEndpoint(cmd.endpointID)
	case addPeerCommand:
		e.addPeer(cmd.peerID, cmd.metadata)
	case removePeerCommand:
		e.removePeer(cmd.peerID, cmd.reason)
	case acceptPeerCommand:
		e.acceptPeer(cmd.peerID)
	case denyPeerCommand:
		e.denyPeer(cmd.peerID, cmd.data)
	case mediaEventCommand:
		e.processMediaEvent(cmd.peerID, cmd.payload)
	case subscribeCommand:
		cmd.reply <- e.subscribe(cmd.endpointID, cmd.trackID, cmd.format, cmd.opts)
	case setTracksPriorityCommand:
		e.setTracksPriority(cmd.endpointID, cmd.trackIDs)
	default:
		e.logger.Errorf("unknown command type: %T", cmd)
	}
}

func (e *Engine) processEndpointNotification(sender endpoint.ID, notification endpoint.Notification) {
	switch msg := notification.(type) {
	case endpoint.PublishedTracks:
		e.processPublishedTracks(sender, msg.Tracks)
	case endpoint.RemovedTracks:
		e.processRemovedTracks(sender, msg.TrackIDs)
	case endpoint.TrackReady:
		e.processTrackReady(sender, msg)
	case endpoint.CustomMediaEvent:
		e.processCustomMediaEvent(sender, msg)
	case endpoint.Exited:
		e.processEndpointExited(sender, msg.Err)
	default:
		e.logger.Errorf("unknown notification type from endpoint %s: %T", sender, msg)
	}
}

func (e *Engine) processTeeNotification(trackID track.ID, notification routing.Notification) {
	switch msg := notification.(type) {
	case routing.EncodingSwitched:
		e.processEncodingSwitched(trackID, msg)
	default:
		e.logger.Errorf("unknown notification type from tee %s: %T", trackID, msg)
	}
}

// shutdown stops every endpoint and tears down the routing graph.
func (e *Engine) shutdown() {
	e.logger.Info("shutting down session")

	for id, record := range e.state.endpoints {
		record.handle.Stop()
		delete(e.state.endpoints, id)
	}

	e.graph.Close()
}
