package ivy

import (
	"sync"
	"time"
)

// RegexpChangeKind tells a regexp-change callback whether a peer added or
// removed a subscription.
type RegexpChangeKind int

const (
	RegexpAdded RegexpChangeKind = iota
	RegexpRemoved
)

func (k RegexpChangeKind) String() string {
	if k == RegexpAdded {
		return "ADDED"
	}
	return "REMOVED"
}

// ConnectCallback fires exactly once per peer, strictly after that
// peer's handshake completes (spec.md §8 law 2).
type ConnectCallback func(peer *Peer)

// DisconnectCallback fires exactly once per peer that previously fired
// ConnectCallback (spec.md §8 law 3).
type DisconnectCallback func(peer *Peer)

// DirectMsgCallback fires when a peer sends us a DIRECT_MSG frame.
type DirectMsgCallback func(peer *Peer, numID int, payload string)

// RegexpChangeCallback fires whenever a peer adds or removes one of its
// subscriptions.
type RegexpChangeCallback func(peer *Peer, kind RegexpChangeKind, id int, regexp string)

// PongCallback fires when a PONG completes an outstanding PING, carrying
// the round-trip delay.
type PongCallback func(peer *Peer, delta time.Duration)

// DieCallback fires on a received DIE frame. Returning true vetoes the
// shutdown (the reference implementation's IVY_SHOULD_NOT_DIE sentinel);
// any other return shuts the whole agent down.
type DieCallback func(peer *Peer, numID int) (veto bool)

// callbackSet holds every registered application callback. A nil entry
// means "nothing registered"; callers must check before invoking. Bound
// at construction time via the With* options, or rebound afterwards via
// Agent.BindDirectMsg/BindRegexpChange/BindPong, so every field access
// after construction goes through mu (the With* options write the fields
// directly, before Start).
type callbackSet struct {
	mu sync.Mutex

	onConnect      ConnectCallback
	onDisconnect   DisconnectCallback
	onDirectMsg    DirectMsgCallback
	onRegexpChange RegexpChangeCallback
	onPong         PongCallback
	onDie          DieCallback
}

// invokeConnect wraps the connect callback so a panicking application
// handler cannot take down the server, matching spec.md §4.5's
// "callback invocation discipline".
func (a *Agent) invokeConnect(peer *Peer) {
	a.callbacks.mu.Lock()
	cb := a.callbacks.onConnect
	a.callbacks.mu.Unlock()
	if cb == nil {
		return
	}
	defer a.recoverCallback("connect", peer)
	cb(peer)
}

func (a *Agent) invokeDisconnect(peer *Peer) {
	a.callbacks.mu.Lock()
	cb := a.callbacks.onDisconnect
	a.callbacks.mu.Unlock()
	if cb == nil {
		return
	}
	defer a.recoverCallback("disconnect", peer)
	cb(peer)
}

func (a *Agent) invokeDirectMsg(peer *Peer, numID int, payload string) {
	a.callbacks.mu.Lock()
	cb := a.callbacks.onDirectMsg
	a.callbacks.mu.Unlock()
	if cb == nil {
		return
	}
	defer a.recoverCallback("direct-message", peer)
	cb(peer, numID, payload)
}

func (a *Agent) invokeRegexpChange(peer *Peer, kind RegexpChangeKind, id int, regexp string) {
	a.callbacks.mu.Lock()
	cb := a.callbacks.onRegexpChange
	a.callbacks.mu.Unlock()
	if cb == nil {
		return
	}
	defer a.recoverCallback("regexp-change", peer)
	cb(peer, kind, id, regexp)
}

func (a *Agent) invokePong(peer *Peer, delta time.Duration) {
	a.callbacks.mu.Lock()
	cb := a.callbacks.onPong
	a.callbacks.mu.Unlock()
	if cb == nil {
		return
	}
	defer a.recoverCallback("pong", peer)
	cb(peer, delta)
}

// invokeDie returns whether the die callback vetoed shutdown. Absence of
// a callback means "no veto": the agent shuts down, matching the
// reference implementation's default behavior.
func (a *Agent) invokeDie(peer *Peer, numID int) (veto bool) {
	a.callbacks.mu.Lock()
	cb := a.callbacks.onDie
	a.callbacks.mu.Unlock()
	if cb == nil {
		return false
	}
	defer a.recoverCallback("die", peer)
	return cb(peer, numID)
}

// BindDirectMsg registers (or replaces) the direct-message callback at
// any point in the agent's lifetime, the Go analogue of the reference
// implementation's IvyBindDirectMsg.
func (a *Agent) BindDirectMsg(cb DirectMsgCallback) {
	a.callbacks.mu.Lock()
	defer a.callbacks.mu.Unlock()
	a.callbacks.onDirectMsg = cb
}

// BindRegexpChange registers (or replaces) the regexp-change callback at
// any point in the agent's lifetime, the Go analogue of
// IvyBindRegexpChange.
func (a *Agent) BindRegexpChange(cb RegexpChangeCallback) {
	a.callbacks.mu.Lock()
	defer a.callbacks.mu.Unlock()
	a.callbacks.onRegexpChange = cb
}

// BindPong registers (or replaces) the pong callback at any point in the
// agent's lifetime, the Go analogue of IvyBindPong.
func (a *Agent) BindPong(cb PongCallback) {
	a.callbacks.mu.Lock()
	defer a.callbacks.mu.Unlock()
	a.callbacks.onPong = cb
}

func (a *Agent) recoverCallback(kind string, peer *Peer) {
	if r := recover(); r != nil {
		a.logger.errorf("application %s callback panicked for peer %s: %v", kind, peer, r)
	}
}
