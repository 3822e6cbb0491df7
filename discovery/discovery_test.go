package discovery

import (
	"testing"
	"time"
)

// Multicast loopback needs no special socket options, unlike a directed
// broadcast, so the discovery round-trip is exercised over a multicast
// group rather than 127.255.255.255.
const testMulticastGroup = "224.0.0.251"

func TestAnnounceAndReceive(t *testing.T) {
	port := 21099

	a := New(Config{
		BusIP: testMulticastGroup, BusPort: port, Multicast: true,
		AgentID: "agent-a", AgentName: "alice", TCPPort: 9001,
	})
	if err := a.Start(); err != nil {
		t.Fatalf("a.Start() error = %v", err)
	}
	defer a.Stop()

	b := New(Config{
		BusIP: testMulticastGroup, BusPort: port, Multicast: true,
		AgentID: "agent-b", AgentName: "bob", TCPPort: 9002,
	})
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start() error = %v", err)
	}
	defer b.Stop()

	select {
	case ann := <-a.Events():
		if ann.AgentID != "agent-b" || ann.AgentName != "bob" || ann.Port != 9002 {
			t.Fatalf("a received unexpected announcement: %+v", ann)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a to observe b's announcement")
	}
}

func TestParseDropsOwnID(t *testing.T) {
	s := New(Config{AgentID: "self-id"})
	if _, ok := s.parse("3 9001 self-id somebody\n", "127.0.0.1"); ok {
		t.Fatal("expected self-announced datagram to be dropped")
	}
}

func TestParseDropsWrongVersion(t *testing.T) {
	s := New(Config{AgentID: "self-id"})
	if _, ok := s.parse("99 9001 other-id somebody\n", "127.0.0.1"); ok {
		t.Fatal("expected datagram with wrong protocol version to be dropped")
	}
}

func TestParseDropsMalformed(t *testing.T) {
	s := New(Config{AgentID: "self-id"})
	if _, ok := s.parse("not a datagram", "127.0.0.1"); ok {
		t.Fatal("expected malformed datagram to be dropped")
	}
}

func TestParseAcceptsWellFormed(t *testing.T) {
	s := New(Config{AgentID: "self-id"})
	ann, ok := s.parse("3 9001 other-id somebody\n", "127.0.0.1")
	if !ok {
		t.Fatal("expected well-formed datagram to be accepted")
	}
	want := Announcement{IP: "127.0.0.1", Port: 9001, AgentID: "other-id", AgentName: "somebody"}
	if ann != want {
		t.Fatalf("got %+v, want %+v", ann, want)
	}
}
