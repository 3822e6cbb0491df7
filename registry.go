package ivy

import (
	"regexp"
	"sync"
)

// SubscriptionCallback is invoked once per matching MSG received from a
// peer on one of our subscriptions. peer is the sender, captures holds
// the regexp's capturing groups (absent optional groups as "").
type SubscriptionCallback func(peer *Peer, captures ...string)

// ourSubscription is one entry of the "ours" half of the registry
// (spec.md §3): a monotonically increasing id mapped to a regexp and its
// callback. Ids are dense but may have holes after UnbindMsg.
type ourSubscription struct {
	regexp   string
	callback SubscriptionCallback
}

// binding is one (peer, remote subscription id) pair interested in a
// given regexp, the "theirs" half of the registry.
type binding struct {
	peer  *Peer
	subID int
}

// Subscription is a (id, regexp) pair, as returned by GetMessages and
// GetApplicationMessages.
type Subscription struct {
	ID     int
	Regexp string
}

// peerBindings holds every peer currently bound to one regexp string; the
// compiled pattern is shared by every peer subscribing to the same text,
// mirroring the teacher's group.go (one Go type, one map of interested
// peers) generalized from named groups to arbitrary regexps.
type peerBindings struct {
	pattern  *regexp.Regexp
	bindings []binding
}

// registry is the subscription registry (C3): our own subscriptions plus
// every peer's advertised subscriptions, under one lock of its own,
// separate from the peers directory's lock.
type registry struct {
	mu sync.Mutex

	nextSubID int
	ours      map[int]ourSubscription

	theirs map[string]*peerBindings
}

func newRegistry() *registry {
	return &registry{
		ours:   make(map[int]ourSubscription),
		theirs: make(map[string]*peerBindings),
	}
}

// add registers a new subscription and returns its id. Ids are never
// reused, even after remove.
func (r *registry) add(pattern string, cb SubscriptionCallback) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	r.ours[id] = ourSubscription{regexp: pattern, callback: cb}
	return id
}

// remove unregisters a subscription and returns its regexp text.
func (r *registry) remove(id int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.ours[id]
	if !ok {
		return "", &ErrSubscriptionNotFound{ID: id}
	}
	delete(r.ours, id)
	return sub.regexp, nil
}

// get looks up the callback registered for one of our subscription ids.
func (r *registry) get(id int) (ourSubscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.ours[id]
	return sub, ok
}

// all returns every (id, regexp) pair we're subscribed to.
func (r *registry) all() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscription, 0, len(r.ours))
	for id, sub := range r.ours {
		out = append(out, Subscription{ID: id, Regexp: sub.regexp})
	}
	return out
}

// bind records that peer subscribes, under remoteSubID, to pattern. The
// pattern is compiled once per distinct text and shared across every peer
// subscribing to it.
func (r *registry) bind(peer *Peer, remoteSubID int, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pb, ok := r.theirs[pattern]
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return &InvalidRegexpError{Regexp: pattern, Err: err}
		}
		pb = &peerBindings{pattern: compiled}
		r.theirs[pattern] = pb
	}
	pb.bindings = append(pb.bindings, binding{peer: peer, subID: remoteSubID})
	return nil
}

// unbind removes one (peer, remoteSubID) binding and returns the regexp
// it was bound to, or ok=false if no such binding exists. A removal
// allocates a brand-new slice rather than compacting in place, mirroring
// the original implementation's _remove_client_bindings (which rebuilds
// binding.clients via a list comprehension): dispatch reads pb.bindings
// unlocked, so a concurrent reader must always see either the whole old
// slice or the whole new one, never one being overwritten mid-iteration.
func (r *registry) unbind(peer *Peer, remoteSubID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pattern, pb := range r.theirs {
		for i, b := range pb.bindings {
			if b.peer == peer && b.subID == remoteSubID {
				fresh := make([]binding, 0, len(pb.bindings)-1)
				fresh = append(fresh, pb.bindings[:i]...)
				fresh = append(fresh, pb.bindings[i+1:]...)
				pb.bindings = fresh
				return pattern, true
			}
		}
	}
	return "", false
}

// unbindAll purges every binding belonging to peer, e.g. on disconnect.
// Like unbind, it rebuilds a fresh slice instead of compacting in place,
// for the same reason: dispatch may be reading the old slice unlocked at
// the moment this runs.
func (r *registry) unbindAll(peer *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pb := range r.theirs {
		kept := make([]binding, 0, len(pb.bindings))
		for _, b := range pb.bindings {
			if b.peer != peer {
				kept = append(kept, b)
			}
		}
		pb.bindings = kept
	}
}

// bindingsOf returns every (remoteSubID, regexp) pair peer is bound to.
func (r *registry) bindingsOf(peer *Peer) []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Subscription
	for pattern, pb := range r.theirs {
		for _, b := range pb.bindings {
			if b.peer == peer {
				out = append(out, Subscription{ID: b.subID, Regexp: pattern})
			}
		}
	}
	return out
}

// dispatch matches text against every distinct regexp and, for each
// matching (peer, subID) pair whose peer equals target (or target is nil,
// meaning "broadcast to everyone"), sends a MSG frame. It returns the
// number of (peer, subscription) pairs the message was sent to.
//
// The snapshot of bindings is taken under the lock; the actual sends then
// happen outside it; regexp matching is CPU-bound and deliberately
// excluded from holding the lock only where it is safe to do so (here, a
// single-pass match over a stable, already-snapshotted slice).
func (r *registry) dispatch(text string, target *Peer) int {
	r.mu.Lock()
	snapshot := make([]*peerBindings, 0, len(r.theirs))
	for _, pb := range r.theirs {
		snapshot = append(snapshot, pb)
	}
	r.mu.Unlock()

	count := 0
	for _, pb := range snapshot {
		match := pb.pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		// match[1:] already defaults a non-participating optional group
		// to "", matching spec.md §4.3's capture semantics.
		captures := match[1:]
		for _, b := range pb.bindings {
			if target != nil && b.peer != target {
				continue
			}
			b.peer.SendMessage(b.subID, captures)
			count++
		}
	}
	return count
}
