package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/meshrtc/engine/pkg/channel"
	"github.com/meshrtc/engine/pkg/engine/endpoint"
	"github.com/meshrtc/engine/pkg/engine/track"
	"github.com/meshrtc/engine/pkg/registry"
	"github.com/pion/rtp"
)

const waitTimeout = 2 * time.Second

// testObserver records every engine message on a channel so that tests
// can assert on dispatch order.
type testObserver struct {
	messages chan registry.Message
}

func newTestObserver() *testObserver {
	return &testObserver{messages: make(chan registry.Message, 64)}
}

func (o *testObserver) OnEngineMessage(message registry.Message) {
	o.messages <- message
}

func (o *testObserver) next(t *testing.T) registry.Message {
	t.Helper()
	select {
	case message := <-o.messages:
		return message
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an engine message")
		return nil
	}
}

// envelope is the decoded form of a serialized Media Event together with
// its target.
type envelope struct {
	To   string
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (o *testObserver) nextMediaEvent(t *testing.T) envelope {
	t.Helper()
	message := o.next(t)
	media, ok := message.(registry.MediaEvent)
	if !ok {
		t.Fatalf("expected a media event, got %T", message)
	}

	var env envelope
	if err := json.Unmarshal(media.Data, &env); err != nil {
		t.Fatalf("failed to decode media event: %s", err)
	}
	env.To = media.To
	return env
}

func (o *testObserver) expectMediaEvent(t *testing.T, to, eventType string) envelope {
	t.Helper()
	env := o.nextMediaEvent(t)
	if env.To != to || env.Type != eventType {
		t.Fatalf("expected %s for %s, got %s for %s", eventType, to, env.Type, env.To)
	}
	return env
}

type rtpDelivery struct {
	trackID track.ID
	packet  *rtp.Packet
}

type sampleDelivery struct {
	trackID track.ID
	sample  []byte
}

// stubEndpoint is a scriptable endpoint descriptor. It hands its Env to
// the test, forwards controls, and can be told to exit or panic.
type stubEndpoint struct {
	env      chan endpoint.Env
	controls chan endpoint.Control
	exit     chan error
	panics   chan struct{}
	rtp      chan rtpDelivery
	samples  chan sampleDelivery
	// The notification sink of the running endpoint, captured once the
	// descriptor has been spawned.
	notify *channel.SinkWithSender[endpoint.ID, endpoint.Notification]
}

func newStubEndpoint() *stubEndpoint {
	return &stubEndpoint{
		env:      make(chan endpoint.Env, 1),
		controls: make(chan endpoint.Control, 64),
		exit:     make(chan error, 1),
		panics:   make(chan struct{}, 1),
		rtp:      make(chan rtpDelivery, 64),
		samples:  make(chan sampleDelivery, 64),
	}
}

func (s *stubEndpoint) Run(ctx context.Context, env endpoint.Env) error {
	s.env <- env
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.exit:
			return err
		case <-s.panics:
			panic("boom")
		case control := <-env.Controls:
			s.controls <- control
		}
	}
}

func (s *stubEndpoint) WriteRTP(trackID track.ID, packet *rtp.Packet) error {
	s.rtp <- rtpDelivery{trackID: trackID, packet: packet}
	return nil
}

func (s *stubEndpoint) WriteSample(trackID track.ID, sample []byte) error {
	s.samples <- sampleDelivery{trackID: trackID, sample: sample}
	return nil
}

func (s *stubEndpoint) waitEnv(t *testing.T) endpoint.Env {
	t.Helper()
	select {
	case env := <-s.env:
		return env
	case <-time.After(waitTimeout):
		t.Fatal("endpoint was never started")
		return endpoint.Env{}
	}
}

// waitControl discards controls until one satisfies the matcher.
func (s *stubEndpoint) waitControl(t *testing.T, match func(endpoint.Control) bool) endpoint.Control {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case control := <-s.controls:
			if match(control) {
				return control
			}
		case <-deadline:
			t.Fatal("timed out waiting for a control message")
			return nil
		}
	}
}

func startEngine(t *testing.T) (*Engine, *testObserver) {
	t.Helper()
	e := Start(Config{ID: "test-session"})
	t.Cleanup(e.Shutdown)

	observer := newTestObserver()
	e.Register(observer)
	return e, observer
}

func joinPayload(metadata string) []byte {
	return []byte(`{"type":"join","data":{"metadata":` + metadata + `}}`)
}

// addAdmittedPeer inserts a peer via the application path and consumes
// the two admission events.
func addAdmittedPeer(t *testing.T, e *Engine, observer *testObserver, peerID string) {
	t.Helper()
	e.AddPeer(peerID, nil)
	observer.expectMediaEvent(t, peerID, "peerAccepted")
	observer.expectMediaEvent(t, "broadcast", "peerJoined")
}

// addPeerEndpoint admits a peer and attaches a stub endpoint to it.
func addPeerEndpoint(t *testing.T, e *Engine, observer *testObserver, peerID string) *stubEndpoint {
	t.Helper()
	addAdmittedPeer(t, e, observer, peerID)

	stub := newStubEndpoint()
	if err := e.AddEndpoint(stub, AddEndpointOptions{PeerID: peerID}); err != nil {
		t.Fatalf("failed to add endpoint for %s: %s", peerID, err)
	}
	stub.notify = stub.waitEnv(t).Notify
	return stub
}

func TestJoinHandshakeAccept(t *testing.T) {
	e, observer := startEngine(t)

	e.ReceiveMediaEvent("alice", joinPayload(`{"name":"alice"}`))

	message := observer.next(t)
	newPeer, ok := message.(registry.NewPeer)
	if !ok {
		t.Fatalf("expected NewPeer, got %T", message)
	}
	if newPeer.PeerID != "alice" {
		t.Fatalf("expected admission request for alice, got %s", newPeer.PeerID)
	}

	e.AcceptPeer("alice")

	accepted := observer.expectMediaEvent(t, "alice", "peerAccepted")
	var data struct {
		ID          string `json:"id"`
		PeersInRoom []struct {
			ID string `json:"id"`
		} `json:"peersInRoom"`
	}
	if err := json.Unmarshal(accepted.Data, &data); err != nil {
		t.Fatalf("failed to decode peerAccepted: %s", err)
	}
	if data.ID != "alice" {
		t.Fatalf("expected id alice, got %s", data.ID)
	}
	if len(data.PeersInRoom) != 0 {
		t.Fatalf("expected an empty room, got %d peers", len(data.PeersInRoom))
	}

	observer.expectMediaEvent(t, "broadcast", "peerJoined")
}

func TestJoinHandshakeDeny(t *testing.T) {
	e, observer := startEngine(t)

	e.ReceiveMediaEvent("alice", joinPayload(`null`))
	if _, ok := observer.next(t).(registry.NewPeer); !ok {
		t.Fatal("expected an admission request")
	}

	e.DenyPeer("alice", map[string]any{"reason": "room full"})

	denied := observer.expectMediaEvent(t, "alice", "peerDenied")
	var data struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(denied.Data, &data); err != nil {
		t.Fatalf("failed to decode peerDenied: %s", err)
	}
	if data.Reason != "room full" {
		t.Fatalf("expected the deny payload, got %q", data.Reason)
	}

	// The denied peer was never admitted: a fresh admission is the next
	// thing observers hear about.
	addAdmittedPeer(t, e, observer, "bob")
}

func TestJoinSnapshotListsExistingPeers(t *testing.T) {
	e, observer := startEngine(t)

	addAdmittedPeer(t, e, observer, "alice")

	e.ReceiveMediaEvent("bob", joinPayload(`null`))
	if _, ok := observer.next(t).(registry.NewPeer); !ok {
		t.Fatal("expected an admission request")
	}
	e.AcceptPeer("bob")

	accepted := observer.expectMediaEvent(t, "bob", "peerAccepted")
	var data struct {
		PeersInRoom []struct {
			ID string `json:"id"`
		} `json:"peersInRoom"`
	}
	if err := json.Unmarshal(accepted.Data, &data); err != nil {
		t.Fatalf("failed to decode peerAccepted: %s", err)
	}
	if len(data.PeersInRoom) != 1 || data.PeersInRoom[0].ID != "alice" {
		t.Fatalf("expected alice in the snapshot, got %+v", data.PeersInRoom)
	}

	observer.expectMediaEvent(t, "broadcast", "peerJoined")
}

func TestDuplicateJoinIgnored(t *testing.T) {
	e, observer := startEngine(t)

	e.ReceiveMediaEvent("alice", joinPayload(`null`))
	if _, ok := observer.next(t).(registry.NewPeer); !ok {
		t.Fatal("expected an admission request")
	}

	// A second join while the first awaits a decision changes nothing.
	e.ReceiveMediaEvent("alice", joinPayload(`null`))
	e.AcceptPeer("alice")

	observer.expectMediaEvent(t, "alice", "peerAccepted")
	observer.expectMediaEvent(t, "broadcast", "peerJoined")
}

func TestAddEndpointRejectsConflictingIDs(t *testing.T) {
	e, _ := startEngine(t)

	err := e.AddEndpoint(newStubEndpoint(), AddEndpointOptions{EndpointID: "ep", PeerID: "alice"})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
}

func TestDuplicateAddPeerIsIgnored(t *testing.T) {
	e, observer := startEngine(t)

	addAdmittedPeer(t, e, observer, "alice")
	e.AddPeer("alice", map[string]any{"name": "impostor"})

	// The duplicate add must not re-announce alice: the next thing
	// observers hear is the admission of a fresh peer.
	addAdmittedPeer(t, e, observer, "bob")
}

func TestDuplicateAddEndpointIsIgnored(t *testing.T) {
	e, _ := startEngine(t)

	first := newStubEndpoint()
	if err := e.AddEndpoint(first, AddEndpointOptions{EndpointID: "recorder"}); err != nil {
		t.Fatalf("failed to add endpoint: %s", err)
	}
	first.waitEnv(t)

	second := newStubEndpoint()
	if err := e.AddEndpoint(second, AddEndpointOptions{EndpointID: "recorder"}); err != nil {
		t.Fatalf("duplicate add must be a no-op, got %s", err)
	}

	select {
	case <-second.env:
		t.Fatal("the duplicate endpoint must never be started")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishSubscribeDelivery(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	bob := addPeerEndpoint(t, e, observer, "bob")

	published := track.Track{
		ID:       "camera",
		Formats:  []track.Format{"rtp", track.FormatRaw},
		Metadata: map[string]any{"label": "camera"},
	}
	if err := alice.notify.Send(endpoint.PublishedTracks{Tracks: []track.Track{published}}); err != nil {
		t.Fatalf("failed to publish: %s", err)
	}

	// The other endpoint learns about the track right away, even though
	// it is not active yet.
	bob.waitControl(t, func(c endpoint.Control) bool {
		added, ok := c.(endpoint.NewTracks)
		return ok && len(added.Tracks) == 1 && added.Tracks[0].ID == "camera"
	})

	// Subscribing before readiness parks the request.
	if err := e.Subscribe("bob", "camera", "rtp", SubscribeOptions{}); err != nil {
		t.Fatalf("subscribe failed: %s", err)
	}

	if err := alice.notify.Send(endpoint.TrackReady{
		TrackID:     "camera",
		Codec:       "vp8",
		Depayloader: func(p *rtp.Packet) ([]byte, error) { return p.Payload, nil },
	}); err != nil {
		t.Fatalf("failed to report readiness: %s", err)
	}

	linked := alice.waitControl(t, func(c endpoint.Control) bool {
		_, ok := c.(endpoint.TrackLinked)
		return ok
	}).(endpoint.TrackLinked)

	added := observer.expectMediaEvent(t, "broadcast", "tracksAdded")
	var data struct {
		PeerID            string         `json:"peerId"`
		TrackIDToMetadata map[string]any `json:"trackIdToMetadata"`
	}
	if err := json.Unmarshal(added.Data, &data); err != nil {
		t.Fatalf("failed to decode tracksAdded: %s", err)
	}
	if data.PeerID != "alice" {
		t.Fatalf("expected alice as the publisher, got %s", data.PeerID)
	}
	if _, found := data.TrackIDToMetadata["camera"]; !found {
		t.Fatal("expected the camera track in tracksAdded")
	}

	// The pending subscription was fulfilled: media written by alice
	// reaches bob.
	packet := &rtp.Packet{Header: rtp.Header{SequenceNumber: 7}, Payload: []byte{1, 2, 3}}
	if err := linked.Input.WriteRTP("", packet); err != nil {
		t.Fatalf("failed to write: %s", err)
	}

	select {
	case delivery := <-bob.rtp:
		if delivery.trackID != "camera" || delivery.packet.SequenceNumber != 7 {
			t.Fatalf("unexpected delivery: %+v", delivery)
		}
	case <-time.After(waitTimeout):
		t.Fatal("bob never received the packet")
	}
}

func TestRawSubscriptionReceivesSamples(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	bob := addPeerEndpoint(t, e, observer, "bob")

	if err := alice.notify.Send(endpoint.PublishedTracks{Tracks: []track.Track{{
		ID:      "mic",
		Formats: []track.Format{"rtp", track.FormatRaw},
	}}}); err != nil {
		t.Fatalf("failed to publish: %s", err)
	}

	if err := e.Subscribe("bob", "mic", track.FormatRaw, SubscribeOptions{}); err != nil {
		t.Fatalf("subscribe failed: %s", err)
	}

	if err := alice.notify.Send(endpoint.TrackReady{
		TrackID:     "mic",
		Codec:       "opus",
		Depayloader: func(p *rtp.Packet) ([]byte, error) { return p.Payload, nil },
	}); err != nil {
		t.Fatalf("failed to report readiness: %s", err)
	}

	linked := alice.waitControl(t, func(c endpoint.Control) bool {
		_, ok := c.(endpoint.TrackLinked)
		return ok
	}).(endpoint.TrackLinked)
	observer.expectMediaEvent(t, "broadcast", "tracksAdded")

	if err := linked.Input.WriteRTP("", &rtp.Packet{Payload: []byte("pcm")}); err != nil {
		t.Fatalf("failed to write: %s", err)
	}

	select {
	case delivery := <-bob.samples:
		if delivery.trackID != "mic" || string(delivery.sample) != "pcm" {
			t.Fatalf("unexpected sample delivery: %+v", delivery)
		}
	case <-time.After(waitTimeout):
		t.Fatal("bob never received the sample")
	}
}

func TestMultiplePendingSubscriptionsDrainOnTrackReady(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	bob := addPeerEndpoint(t, e, observer, "bob")
	carol := addPeerEndpoint(t, e, observer, "carol")

	if err := alice.notify.Send(endpoint.PublishedTracks{Tracks: []track.Track{{
		ID:      "camera",
		Formats: []track.Format{"rtp", track.FormatRaw},
	}}}); err != nil {
		t.Fatalf("failed to publish: %s", err)
	}

	// Two subscribers park on the same track before it is ready, one of
	// them in the raw format.
	if err := e.Subscribe("bob", "camera", "rtp", SubscribeOptions{}); err != nil {
		t.Fatalf("subscribe failed: %s", err)
	}
	if err := e.Subscribe("carol", "camera", track.FormatRaw, SubscribeOptions{}); err != nil {
		t.Fatalf("subscribe failed: %s", err)
	}

	if err := alice.notify.Send(endpoint.TrackReady{
		TrackID:     "camera",
		Codec:       "vp8",
		Depayloader: func(p *rtp.Packet) ([]byte, error) { return p.Payload, nil },
	}); err != nil {
		t.Fatalf("failed to report readiness: %s", err)
	}

	linked := alice.waitControl(t, func(c endpoint.Control) bool {
		_, ok := c.(endpoint.TrackLinked)
		return ok
	}).(endpoint.TrackLinked)
	observer.expectMediaEvent(t, "broadcast", "tracksAdded")

	// One write fans out to every drained subscriber.
	packet := &rtp.Packet{Header: rtp.Header{SequenceNumber: 9}, Payload: []byte("frame")}
	if err := linked.Input.WriteRTP("", packet); err != nil {
		t.Fatalf("failed to write: %s", err)
	}

	select {
	case delivery := <-bob.rtp:
		if delivery.trackID != "camera" || delivery.packet.SequenceNumber != 9 {
			t.Fatalf("unexpected delivery: %+v", delivery)
		}
	case <-time.After(waitTimeout):
		t.Fatal("bob never received the packet")
	}

	select {
	case delivery := <-carol.samples:
		if delivery.trackID != "camera" || string(delivery.sample) != "frame" {
			t.Fatalf("unexpected sample delivery: %+v", delivery)
		}
	case <-time.After(waitTimeout):
		t.Fatal("carol never received the sample")
	}

	// A repeated subscribe confirms both subscriptions went active rather
	// than lingering in the pending queue: it is the already-subscribed
	// warning no-op, not a second pending entry.
	if err := e.Subscribe("bob", "camera", "rtp", SubscribeOptions{}); err != nil {
		t.Fatalf("re-subscribe of an active subscription must be a no-op, got %s", err)
	}
	if err := e.Subscribe("carol", "camera", track.FormatRaw, SubscribeOptions{}); err != nil {
		t.Fatalf("re-subscribe of an active subscription must be a no-op, got %s", err)
	}
}

func TestRawSubscribeWithoutDepayloaderIsRejected(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	addPeerEndpoint(t, e, observer, "bob")

	if err := alice.notify.Send(endpoint.PublishedTracks{Tracks: []track.Track{{
		ID:      "mic",
		Formats: []track.Format{"rtp", track.FormatRaw},
	}}}); err != nil {
		t.Fatalf("failed to publish: %s", err)
	}

	// The track becomes ready without ever supplying a depayloader.
	if err := alice.notify.Send(endpoint.TrackReady{TrackID: "mic", Codec: "opus"}); err != nil {
		t.Fatalf("failed to report readiness: %s", err)
	}
	alice.waitControl(t, func(c endpoint.Control) bool {
		_, ok := c.(endpoint.TrackLinked)
		return ok
	})
	observer.expectMediaEvent(t, "broadcast", "tracksAdded")

	if err := e.Subscribe("bob", "mic", track.FormatRaw, SubscribeOptions{}); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	addPeerEndpoint(t, e, observer, "bob")

	if err := alice.notify.Send(endpoint.PublishedTracks{Tracks: []track.Track{{
		ID:        "screen",
		Formats:   []track.Format{"rtp"},
		Encodings: []track.Encoding{"l", "h"},
	}}}); err != nil {
		t.Fatalf("failed to publish: %s", err)
	}

	// Give the actor a synchronization point so the publication is in.
	e.SetTracksPriority("alice", nil)
	observer.expectMediaEvent(t, "alice", "tracksPriority")

	cases := []struct {
		name       string
		endpointID endpoint.ID
		trackID    track.ID
		format     track.Format
		opts       SubscribeOptions
		want       error
	}{
		{"unknown track", "bob", "nope", "rtp", SubscribeOptions{}, ErrInvalidTrackID},
		{"unsupported format", "bob", "screen", "hls", SubscribeOptions{}, ErrInvalidFormat},
		{
			"unknown encoding", "bob", "screen", "rtp",
			SubscribeOptions{DefaultSimulcastEncoding: "ultra"},
			ErrInvalidDefaultSimulcastEncoding,
		},
		{"unknown subscriber", "ghost", "screen", "rtp", SubscribeOptions{}, ErrInvalidArguments},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Subscribe(tc.endpointID, tc.trackID, tc.format, tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSelectEncodingSwitchesLayer(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	bob := addPeerEndpoint(t, e, observer, "bob")

	if err := alice.notify.Send(endpoint.PublishedTracks{Tracks: []track.Track{{
		ID:        "camera",
		Formats:   []track.Format{"rtp"},
		Encodings: []track.Encoding{"l", "h"},
	}}}); err != nil {
		t.Fatalf("failed to publish: %s", err)
	}

	if err := e.Subscribe("bob", "camera", "rtp", SubscribeOptions{DefaultSimulcastEncoding: "h"}); err != nil {
		t.Fatalf("subscribe failed: %s", err)
	}

	if err := alice.notify.Send(endpoint.TrackReady{TrackID: "camera", RID: "h", Codec: "vp8"}); err != nil {
		t.Fatalf("failed to report readiness: %s", err)
	}

	linked := alice.waitControl(t, func(c endpoint.Control) bool {
		_, ok := c.(endpoint.TrackLinked)
		return ok
	}).(endpoint.TrackLinked)
	observer.expectMediaEvent(t, "broadcast", "tracksAdded")

	// Feed both layers so the tee learns their SSRCs; only the preferred
	// layer reaches the subscriber.
	if err := linked.Input.WriteRTP("l", &rtp.Packet{Header: rtp.Header{SSRC: 100}}); err != nil {
		t.Fatalf("failed to write: %s", err)
	}
	if err := linked.Input.WriteRTP("h", &rtp.Packet{Header: rtp.Header{SSRC: 200, SequenceNumber: 1}}); err != nil {
		t.Fatalf("failed to write: %s", err)
	}

	select {
	case delivery := <-bob.rtp:
		if delivery.packet.SSRC != 200 {
			t.Fatalf("expected the high layer, got ssrc %d", delivery.packet.SSRC)
		}
	case <-time.After(waitTimeout):
		t.Fatal("bob never received the preferred layer")
	}

	e.ReceiveMediaEvent("bob", []byte(
		`{"type":"selectEncoding","data":{"peerId":"alice","trackId":"camera","encoding":"l"}}`,
	))

	// The publisher is asked for a keyframe on the new layer.
	alice.waitControl(t, func(c endpoint.Control) bool {
		request, ok := c.(endpoint.KeyFrameRequest)
		return ok && request.TrackID == "camera"
	})

	switched := observer.expectMediaEvent(t, "bob", "encodingSwitched")
	var data struct {
		PeerID   string `json:"peerId"`
		TrackID  string `json:"trackId"`
		Encoding string `json:"encoding"`
	}
	if err := json.Unmarshal(switched.Data, &data); err != nil {
		t.Fatalf("failed to decode encodingSwitched: %s", err)
	}
	if data.PeerID != "alice" || data.TrackID != "camera" || data.Encoding != "l" {
		t.Fatalf("unexpected encodingSwitched payload: %+v", data)
	}

	// After the switch the low layer flows to the subscriber.
	if err := linked.Input.WriteRTP("l", &rtp.Packet{Header: rtp.Header{SSRC: 100, SequenceNumber: 2}}); err != nil {
		t.Fatalf("failed to write: %s", err)
	}
	select {
	case delivery := <-bob.rtp:
		if delivery.packet.SSRC != 100 {
			t.Fatalf("expected the low layer, got ssrc %d", delivery.packet.SSRC)
		}
	case <-time.After(waitTimeout):
		t.Fatal("bob never received the switched layer")
	}
}

func TestLeaveWithdrawsTracks(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	bob := addPeerEndpoint(t, e, observer, "bob")

	if err := alice.notify.Send(endpoint.PublishedTracks{Tracks: []track.Track{{
		ID:      "camera",
		Formats: []track.Format{"rtp"},
	}}}); err != nil {
		t.Fatalf("failed to publish: %s", err)
	}
	if err := e.Subscribe("bob", "camera", "rtp", SubscribeOptions{}); err != nil {
		t.Fatalf("subscribe failed: %s", err)
	}
	if err := alice.notify.Send(endpoint.TrackReady{TrackID: "camera", Codec: "vp8"}); err != nil {
		t.Fatalf("failed to report readiness: %s", err)
	}
	observer.expectMediaEvent(t, "broadcast", "tracksAdded")

	e.ReceiveMediaEvent("alice", []byte(`{"type":"leave"}`))

	// The active subscriber is told to drop the track before the peers
	// hear about the departure.
	bob.waitControl(t, func(c endpoint.Control) bool {
		removed, ok := c.(endpoint.RemoveTracks)
		return ok && len(removed.Tracks) == 1 && removed.Tracks[0].ID == "camera"
	})

	observer.expectMediaEvent(t, "broadcast", "tracksRemoved")
	observer.expectMediaEvent(t, "broadcast", "peerLeft")

	message := observer.next(t)
	left, ok := message.(registry.PeerLeft)
	if !ok || left.PeerID != "alice" {
		t.Fatalf("expected PeerLeft for alice, got %#v", message)
	}
}

func TestEndpointCrashContainment(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	addPeerEndpoint(t, e, observer, "bob")

	alice.panics <- struct{}{}

	removed := observer.expectMediaEvent(t, "alice", "peerRemoved")
	var data struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(removed.Data, &data); err != nil {
		t.Fatalf("failed to decode peerRemoved: %s", err)
	}
	if data.Reason != "Internal server error" {
		t.Fatalf("expected an internal error reason, got %q", data.Reason)
	}

	message := observer.next(t)
	crashed, ok := message.(registry.EndpointCrashed)
	if !ok || crashed.EndpointID != "alice" {
		t.Fatalf("expected EndpointCrashed for alice, got %#v", message)
	}

	observer.expectMediaEvent(t, "broadcast", "peerLeft")
	if left, ok := observer.next(t).(registry.PeerLeft); !ok || left.PeerID != "alice" {
		t.Fatal("expected PeerLeft for alice")
	}

	// The session survives the crash: new peers keep being admitted.
	addAdmittedPeer(t, e, observer, "carol")
}

func TestCleanExitRemovesEndpoint(t *testing.T) {
	e, observer := startEngine(t)

	alice := addPeerEndpoint(t, e, observer, "alice")
	alice.exit <- nil

	observer.expectMediaEvent(t, "broadcast", "peerLeft")
	if left, ok := observer.next(t).(registry.PeerLeft); !ok || left.PeerID != "alice" {
		t.Fatal("expected PeerLeft for alice")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	e := Start(Config{ID: "short-lived"})
	e.Shutdown()
	e.Shutdown()

	if err := e.Subscribe("bob", "camera", "rtp", SubscribeOptions{}); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}
