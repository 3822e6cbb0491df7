package ivy

import (
	"sync"
	"testing"
	"time"
)

// testBus picks a private loopback multicast group and UDP port so
// concurrent test runs don't collide with a real Ivy bus on the host.
func testBus(t *testing.T) string {
	t.Helper()
	return "225.0.0.37:21300"
}

// TestHandshakeConnectFires covers spec.md S1: two agents on the same
// bus fire connect for each other and see each other's agent_name.
func TestHandshakeConnectFires(t *testing.T) {
	var muA, muB sync.Mutex
	var aSawB, bSawA *Peer

	a, err := New("agent-a", WithOnConnect(func(p *Peer) {
		muA.Lock()
		aSawB = p
		muA.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("agent-b", WithOnConnect(func(p *Peer) {
		muB.Lock()
		bSawA = p
		muB.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}

	bus := testBus(t)
	if err := a.Start(bus); err != nil {
		t.Fatalf("a.Start() error = %v", err)
	}
	defer a.Stop()
	if err := b.Start(bus); err != nil {
		t.Fatalf("b.Start() error = %v", err)
	}
	defer b.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		muA.Lock()
		muB.Lock()
		gotA, gotB := aSawB != nil, bSawA != nil
		muA.Unlock()
		muB.Unlock()
		if gotA && gotB {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	muA.Lock()
	defer muA.Unlock()
	if aSawB == nil {
		t.Fatal("a never observed b connecting")
	}
	muB.Lock()
	defer muB.Unlock()
	if bSawA == nil {
		t.Fatal("b never observed a connecting")
	}

	names := a.GetApplicationList()
	found := false
	for _, n := range names {
		if n == "agent-b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("a.GetApplicationList() = %v, want to contain agent-b", names)
	}
}

// TestMatchCountAndCaptures covers spec.md S2 (one subscription, one
// match, one capture).
func TestMatchCountAndCaptures(t *testing.T) {
	var mu sync.Mutex
	var captured []string
	calls := 0

	a, err := New("agent-a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("agent-b")
	if err != nil {
		t.Fatal(err)
	}

	bus := "225.0.0.38:21301"
	if err := a.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	if err := b.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	a.BindMsg(func(peer *Peer, captures ...string) {
		mu.Lock()
		calls++
		captured = append(captured, captures...)
		mu.Unlock()
	}, "^hello (.*)$")

	waitForPeers(t, a, 1)
	waitForPeers(t, b, 1)

	n := b.SendMsg("hello world")
	if n != 1 {
		t.Fatalf("b.SendMsg() = %d, want 1", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := calls == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("callback fired %d times, want 1", calls)
	}
	if len(captured) != 1 || captured[0] != "world" {
		t.Fatalf("captured = %v, want [world]", captured)
	}
}

func waitForPeers(t *testing.T, a *Agent, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.GetApplicationList()) >= n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d peer(s)", n)
}

// TestDirectMessage covers spec.md S4.
func TestDirectMessage(t *testing.T) {
	var mu sync.Mutex
	var gotNumID int
	var gotPayload string
	received := false

	a, err := New("agent-a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("agent-b", WithOnDirectMsg(func(peer *Peer, numID int, payload string) {
		mu.Lock()
		gotNumID, gotPayload, received = numID, payload, true
		mu.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}

	bus := "225.0.0.39:21302"
	if err := a.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	if err := b.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	waitForPeers(t, a, 1)

	peerB, ok := a.GetApplication("agent-b")
	if !ok {
		t.Fatal("a has no record of agent-b")
	}
	a.SendDirectMsg(peerB, 42, "ping")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := received
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !received {
		t.Fatal("b never received the direct message")
	}
	if gotNumID != 42 || gotPayload != "ping" {
		t.Fatalf("got (%d, %q), want (42, \"ping\")", gotNumID, gotPayload)
	}
}

// TestBindDirectMsgAtRuntime covers spec.md §6's BindDirectMsg: the
// callback can be registered after New (and after Start), not only via
// the WithOnDirectMsg option.
func TestBindDirectMsgAtRuntime(t *testing.T) {
	var mu sync.Mutex
	var gotPayload string
	received := false

	a, err := New("agent-a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("agent-b")
	if err != nil {
		t.Fatal(err)
	}

	bus := "225.0.0.42:21305"
	if err := a.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	if err := b.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	b.BindDirectMsg(func(peer *Peer, numID int, payload string) {
		mu.Lock()
		gotPayload, received = payload, true
		mu.Unlock()
	})

	waitForPeers(t, a, 1)
	peerB, ok := a.GetApplication("agent-b")
	if !ok {
		t.Fatal("a has no record of agent-b")
	}
	a.SendDirectMsg(peerB, 7, "hello")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := received
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !received {
		t.Fatal("b never received the direct message via a runtime-bound callback")
	}
	if gotPayload != "hello" {
		t.Fatalf("gotPayload = %q, want %q", gotPayload, "hello")
	}
}

// TestPingPong covers spec.md S6.
func TestPingPong(t *testing.T) {
	var mu sync.Mutex
	var delta time.Duration
	got := false

	a, err := New("agent-a", WithOnPong(func(peer *Peer, d time.Duration) {
		mu.Lock()
		delta, got = d, true
		mu.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("agent-b")
	if err != nil {
		t.Fatal(err)
	}

	bus := "225.0.0.40:21303"
	if err := a.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	if err := b.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	waitForPeers(t, a, 1)
	peerB, _ := a.GetApplication("agent-b")
	a.SendPing(peerB)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := got
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !got {
		t.Fatal("a never received a pong callback")
	}
	if delta < 0 {
		t.Fatalf("delta = %v, want non-negative", delta)
	}
}

// TestDisconnectCleanup covers spec.md S5: killing one side's connection
// makes the other observe a disconnect and drop it from the roster.
func TestDisconnectCleanup(t *testing.T) {
	var mu sync.Mutex
	disconnected := false

	a, err := New("agent-a", WithOnDisconnect(func(p *Peer) {
		mu.Lock()
		disconnected = true
		mu.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("agent-b")
	if err != nil {
		t.Fatal(err)
	}

	bus := "225.0.0.41:21304"
	if err := a.Start(bus); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	if err := b.Start(bus); err != nil {
		t.Fatal(err)
	}

	waitForPeers(t, a, 1)
	b.Stop() // abrupt-ish: sends BYE then closes, either path removes the peer

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := disconnected
		mu.Unlock()
		if done && len(a.GetApplicationList()) == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !disconnected {
		t.Fatal("a never fired the disconnect callback")
	}
	if got := a.GetApplicationList(); len(got) != 0 {
		t.Fatalf("a.GetApplicationList() = %v, want empty", got)
	}
}
