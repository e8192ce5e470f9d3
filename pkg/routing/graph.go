package routing

import (
	"fmt"

	"github.com/meshrtc/engine/pkg/channel"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/telemetry"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Edits is a staged set of graph mutations. Fulfilling a subscription may
// require several edits (materialize the raw branch, attach the
// subscriber); staging them first and committing once keeps the
// fulfillment atomic: either all edges are installed or none.
type Edits struct {
	ops []func()
}

func (e *Edits) Stage(op func()) {
	e.ops = append(e.ops, op)
}

func (e *Edits) Commit() {
	for _, op := range e.ops {
		op()
	}
	e.ops = nil
}

// Graph owns the track nodes of one session. It is driven exclusively by
// the engine actor; the nodes themselves run on data-plane goroutines.
type Graph struct {
	displayManager bool
	nodes          map[track.ID]*Node
	notifications  chan<- channel.Message[track.ID, Notification]
	telemetry      *telemetry.Telemetry
	logger         *logrus.Entry
}

func NewGraph(
	displayManager bool,
	notifications chan<- channel.Message[track.ID, Notification],
	tel *telemetry.Telemetry,
	logger *logrus.Entry,
) *Graph {
	return &Graph{
		displayManager: displayManager,
		nodes:          make(map[track.ID]*Node),
		notifications:  notifications,
		telemetry:      tel,
		logger:         logger,
	}
}

// Node is the routing element of a single active track: the tee plus the
// optional raw branch.
type Node struct {
	track     *track.Track
	tee       Tee
	raw       *rawBranch
	telemetry *telemetry.Telemetry
	logger    *logrus.Entry
}

// Node returns the routing node of a track, or nil if the track has not
// reached readiness yet.
func (g *Graph) Node(id track.ID) *Node {
	return g.nodes[id]
}

// AddNode creates the tee for a track that has become ready. The tee kind
// depends on the track: simulcast tracks get a simulcast tee, otherwise a
// filter tee when the display manager is enabled, a push tee if not.
func (g *Graph) AddNode(t *track.Track, requestKeyFrame func(packets []rtcp.Packet)) *Node {
	if node := g.nodes[t.ID]; node != nil {
		g.logger.Warnf("node for track %s already exists", t.ID)
		return node
	}

	logger := g.logger.WithFields(logrus.Fields{
		"track_id": t.ID,
		"peer_id":  t.EndpointID,
	})

	var tee Tee
	switch {
	case t.Simulcast():
		sink := channel.NewSink(t.ID, g.notifications)
		tee = NewSimulcastTee(t.Encodings, sink, requestKeyFrame, logger)
	case g.displayManager:
		tee = NewFilterTee(logger)
	default:
		tee = NewPushTee(logger)
	}

	node := &Node{
		track: t,
		tee:   tee,
		telemetry: g.telemetry.CreateChild(
			"track",
			attribute.String("peer_id", t.EndpointID),
			attribute.String("track_id", t.ID),
		),
		logger: logger,
	}

	g.nodes[t.ID] = node
	return node
}

// RemoveNode tears down the tee of a track together with its raw branch.
func (g *Graph) RemoveNode(id track.ID) {
	node := g.nodes[id]
	if node == nil {
		return
	}

	if node.raw != nil {
		node.tee.RemoveSink(rawBranchID)
		node.raw.close()
	}
	node.tee.Close()
	node.telemetry.End()
	delete(g.nodes, id)
}

// Close tears down every node of the graph.
func (g *Graph) Close() {
	for id := range g.nodes {
		g.RemoveNode(id)
	}
}

// Input exposes the writing end handed to the publishing endpoint.
func (n *Node) Input() Input { return n }

func (n *Node) WriteRTP(encoding track.Encoding, packet *rtp.Packet) error {
	return n.tee.WriteRTP(encoding, packet)
}

// SimulcastTee returns the tee as a simulcast tee if the track is
// simulcast, nil otherwise.
func (n *Node) SimulcastTee() *SimulcastTee {
	tee, _ := n.tee.(*SimulcastTee)
	return tee
}

// FilterTee returns the tee as a filter tee if the node carries one.
func (n *Node) FilterTee() *FilterTee {
	tee, _ := n.tee.(*FilterTee)
	return tee
}

// StageAttach stages the attachment of a subscriber branch delivering the
// track in its primary (remote) format.
func (n *Node) StageAttach(edits *Edits, id SubscriberID, sink Sink, preferred track.Encoding) {
	rid := string(preferred)
	edits.Stage(func() {
		n.tee.AddSink(id, sink, preferred)
		n.telemetry.AddEvent("subscriber attached",
			attribute.String("peer_id", id),
			attribute.String("rid", rid),
		)
	})
}

// StageAttachRaw stages the attachment of a raw-format subscriber,
// materializing the depayloading branch on first use. At most one raw
// branch exists per track.
func (n *Node) StageAttachRaw(edits *Edits, id SubscriberID, sink RawSink) error {
	if n.track.Depayloader == nil {
		return fmt.Errorf("%w: %s", ErrNoDepayloader, n.track.ID)
	}

	edits.Stage(func() {
		if n.raw == nil {
			n.raw = newRawBranch(n.track.Depayloader, n.logger)
			n.tee.AddSink(rawBranchID, n.raw, "")
			n.telemetry.AddEvent("raw branch materialized")
		}
		n.raw.addSink(id, sink)
		n.telemetry.AddEvent("subscriber attached", attribute.String("peer_id", id))
	})

	return nil
}

// Detach removes a subscriber branch from both the tee and the raw branch.
func (n *Node) Detach(id SubscriberID) {
	n.tee.RemoveSink(id)
	if n.raw != nil {
		n.raw.removeSink(id)
	}
}

// HasSubscriber reports whether the tee currently has a branch for the
// given subscriber. Used by invariant checks in tests.
func (n *Node) HasSubscriber(id SubscriberID) bool {
	switch tee := n.tee.(type) {
	case *PushTee:
		tee.mutex.Lock()
		defer tee.mutex.Unlock()
		_, found := tee.sinks[id]
		if !found && n.raw != nil {
			return n.hasRawSubscriber(id)
		}
		return found
	case *FilterTee:
		tee.mutex.Lock()
		defer tee.mutex.Unlock()
		_, found := tee.sinks[id]
		if !found && n.raw != nil {
			return n.hasRawSubscriber(id)
		}
		return found
	case *SimulcastTee:
		tee.mutex.Lock()
		defer tee.mutex.Unlock()
		_, found := tee.branches[id]
		if !found && n.raw != nil {
			return n.hasRawSubscriber(id)
		}
		return found
	default:
		return false
	}
}

func (n *Node) hasRawSubscriber(id SubscriberID) bool {
	n.raw.mutex.Lock()
	defer n.raw.mutex.Unlock()
	_, found := n.raw.sinks[id]
	return found
}

// HasRawBranch reports whether the depayloading branch has been
// materialized for this track.
func (n *Node) HasRawBranch() bool {
	return n.raw != nil
}
