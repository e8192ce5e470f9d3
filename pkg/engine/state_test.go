package engine

import (
	"testing"
)

func TestDrainPendingKeepsInsertionOrder(t *testing.T) {
	s := newState()

	first := &subscription{endpointID: "E1", trackID: "T1"}
	second := &subscription{endpointID: "E2", trackID: "T1"}
	other := &subscription{endpointID: "E1", trackID: "T2"}
	third := &subscription{endpointID: "E3", trackID: "T1"}
	for _, sub := range []*subscription{first, second, other, third} {
		s.addPending(sub)
	}

	drained := s.drainPending("T1")
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained subscriptions, got %d", len(drained))
	}
	for i, want := range []*subscription{first, second, third} {
		if drained[i] != want {
			t.Fatalf("position %d: expected %s, got %s", i, want.endpointID, drained[i].endpointID)
		}
	}

	if s.hasPendingFor("T1") {
		t.Fatal("drained track must have no pending subscriptions left")
	}
	if !s.hasPendingFor("T2") {
		t.Fatal("subscriptions of other tracks must survive the drain")
	}
}

func TestDropPendingOfEndpoint(t *testing.T) {
	s := newState()
	s.addPending(&subscription{endpointID: "E1", trackID: "T1"})
	s.addPending(&subscription{endpointID: "E2", trackID: "T1"})

	s.dropPendingOf("E1")

	drained := s.drainPending("T1")
	if len(drained) != 1 || drained[0].endpointID != "E2" {
		t.Fatalf("expected only E2 to remain pending, got %+v", drained)
	}
}
