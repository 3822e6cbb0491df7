package ivy

import "sync"

// peerKey identifies a Peer by its remote endpoint, the Peers Directory's
// natural key (spec.md §3).
type peerKey struct {
	ip   string
	port int
}

// peersDirectory maps (ip, port) to a *Peer under its own lock, separate
// from the subscription registry's lock.
type peersDirectory struct {
	mu    sync.Mutex
	peers map[peerKey]*Peer
}

func newPeersDirectory() *peersDirectory {
	return &peersDirectory{peers: make(map[peerKey]*Peer)}
}

// register adds a new Peer, failing if one is already registered under
// the same key.
func (d *peersDirectory) register(p *Peer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := p.key()
	if _, exists := d.peers[k]; exists {
		return &ErrAlreadyRegistered{IP: p.IP, Port: p.Port}
	}
	d.peers[k] = p
	return nil
}

func (d *peersDirectory) get(ip string, port int) (*Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[peerKey{ip: ip, port: port}]
	return p, ok
}

// getByID returns a peer already registered under the given remote
// agent_id, used to dedup a reconnect from a new ephemeral port.
func (d *peersDirectory) getByID(agentID string) (*Peer, bool) {
	if agentID == "" {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.peers {
		if p.RemoteID == agentID {
			return p, true
		}
	}
	return nil, false
}

func (d *peersDirectory) remove(ip string, port int) (*Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := peerKey{ip: ip, port: port}
	p, ok := d.peers[k]
	if ok {
		delete(d.peers, k)
	}
	return p, ok
}

// snapshot returns a shallow copy of every registered peer, safe to
// range over without holding the directory lock.
func (d *peersDirectory) snapshot() []*Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out
}

// names returns the agent_name of every INITIALIZED peer.
func (d *peersDirectory) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.peers))
	for _, p := range d.peers {
		if p.GetStatus() == Initialized {
			out = append(out, p.RemoteName)
		}
	}
	return out
}

// withName returns every peer whose RemoteName matches name.
func (d *peersDirectory) withName(name string) []*Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Peer
	for _, p := range d.peers {
		if p.RemoteName == name {
			out = append(out, p)
		}
	}
	return out
}
