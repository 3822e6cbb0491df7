// Package ivy implements the Ivy software bus: a decentralized,
// regex-routed publish/subscribe mesh where every participant is both a
// TCP server to its peers and a UDP broadcaster/listener for discovery.
package ivy

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sbigaret/ivy-go/discovery"
)

// connectTimeout bounds the outbound dial made in response to a
// discovery announcement.
const connectTimeout = 3 * time.Second

// Agent is one Ivy bus participant: one TCP listener, one discovery
// service, a peers directory and a subscription registry, generalized
// from the teacher's Gyre/Node pairing (gyre.go/node.go) to Ivy's
// message-type set and handshake.
type Agent struct {
	AgentName string
	AgentID   string

	readyMessage string

	peers    *peersDirectory
	registry *registry
	timers   *timerSet
	logger   *agentLogger

	callbacks callbackSet

	stateMu  sync.Mutex
	running  bool
	port     int
	bus      busAddr
	listener net.Listener
	disc     *discovery.Service
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New creates an Agent named name, applying every Option in order. The
// Agent does nothing on the network until Start is called.
func New(name string, opts ...Option) (*Agent, error) {
	if name == "" {
		return nil, &IllegalStateError{Reason: "agent name must not be empty"}
	}
	a := &Agent{
		AgentName: name,
		peers:     newPeersDirectory(),
		registry:  newRegistry(),
		timers:    newTimerSet(),
		logger:    newAgentLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// discoveryLogger adapts Agent's logger to discovery.Logger.
type discoveryLogger struct{ l *agentLogger }

func (d discoveryLogger) Debugf(format string, args ...interface{}) { d.l.debugf(format, args...) }
func (d discoveryLogger) Warnf(format string, args ...interface{})  { d.l.warnf(format, args...) }
func (d discoveryLogger) Errorf(format string, args ...interface{}) { d.l.errorf(format, args...) }

// Start binds the TCP listener on an OS-chosen port, derives AgentID,
// opens the UDP discovery socket and begins serving. busAddr follows the
// syntax in spec.md §6; an empty string falls back to IVYBUS or the
// default bus.
func (a *Agent) Start(busAddr string) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.running {
		return &IllegalStateError{Reason: "agent already started"}
	}

	ba, err := decodeBusAddr(busAddr)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		return fmt.Errorf("ivy: listen: %w", err)
	}

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	a.AgentID = fmt.Sprintf("%s-%d-%d-%s", a.AgentName, time.Now().UnixNano(), port, uuid.NewString())
	a.port = port
	a.bus = ba
	a.listener = ln
	a.quit = make(chan struct{})

	busIP := fmt.Sprintf("%d.%d.%d.%d", ba.octets[0], ba.octets[1], ba.octets[2], ba.octets[3])

	a.disc = discovery.New(discovery.Config{
		BusIP:     busIP,
		BusPort:   ba.port,
		Multicast: ba.isMulticast(),
		AgentID:   a.AgentID,
		AgentName: a.AgentName,
		TCPPort:   port,
		Logger:    discoveryLogger{a.logger},
	})
	if err := a.disc.Start(); err != nil {
		ln.Close()
		return err
	}

	a.running = true

	a.wg.Add(2)
	go a.acceptLoop()
	go a.discoveryLoop()

	a.logger.infof("agent %s (%s) listening on port %d, bus %s", a.AgentName, a.AgentID, port, ba.String())
	return nil
}

// Stop sends BYE to every initialized peer, closes the listening socket
// and the discovery socket, and waits for every worker to exit.
func (a *Agent) Stop() error {
	a.stateMu.Lock()
	if !a.running {
		a.stateMu.Unlock()
		return &IllegalStateError{Reason: "agent is not running"}
	}
	a.running = false
	close(a.quit)
	a.listener.Close()
	a.stateMu.Unlock()

	for _, p := range a.peers.snapshot() {
		p.WaveBye(0)
	}

	a.disc.Stop()
	a.wg.Wait()

	for _, p := range a.peers.snapshot() {
		p.close()
	}
	return nil
}

func (a *Agent) acceptLoop() {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return
			default:
				a.logger.warnf("accept: %v", err)
				continue
			}
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handleInbound(conn)
		}()
	}
}

func (a *Agent) discoveryLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.quit:
			return
		case ann, ok := <-a.disc.Events():
			if !ok {
				return
			}
			a.handleAnnouncement(ann)
		}
	}
}

// handleAnnouncement implements spec.md §4.4 steps 3-5: drop duplicates
// (by agent_id first, then by endpoint), dial out, and hand the new
// connection to the same per-connection handler an inbound accept would
// use.
func (a *Agent) handleAnnouncement(ann discovery.Announcement) {
	if existing, ok := a.peers.getByID(ann.AgentID); ok {
		if existing.IP == ann.IP && existing.RemoteListenPort == ann.Port {
			return
		}
		a.peers.remove(existing.IP, existing.Port)
		existing.close()
	} else if _, ok := a.peers.get(ann.IP, ann.Port); ok {
		return
	}

	addr := net.JoinHostPort(ann.IP, strconv.Itoa(ann.Port))
	conn, err := net.DialTimeout("tcp4", addr, connectTimeout)
	if err != nil {
		a.logger.infof("discovery: connect to %s failed, dropping: %v", addr, err)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.handleOutbound(conn, ann.IP, ann.Port, ann.AgentID)
	}()
}

// GetApplicationList returns the agent_name of every initialized peer.
func (a *Agent) GetApplicationList() []string { return a.peers.names() }

// GetApplication returns one peer known by agent_name, if any.
func (a *Agent) GetApplication(name string) (*Peer, bool) {
	peers := a.peers.withName(name)
	if len(peers) == 0 {
		return nil, false
	}
	return peers[0], true
}

// GetApplicationHost returns peer's IP address.
func (a *Agent) GetApplicationHost(peer *Peer) string { return peer.IP }

// GetApplicationMessages returns every subscription peer has bound.
func (a *Agent) GetApplicationMessages(peer *Peer) []Subscription {
	return a.registry.bindingsOf(peer)
}

// GetMessages returns every subscription this agent has bound.
func (a *Agent) GetMessages() []Subscription { return a.registry.all() }

// BindMsg registers a new subscription and advertises it to every
// currently-connected peer (spec.md §4.5 "mutating our subscriptions at
// runtime").
func (a *Agent) BindMsg(cb SubscriptionCallback, pattern string) int {
	id := a.registry.add(pattern, cb)
	for _, p := range a.peers.snapshot() {
		p.SendNewSubscription(id, pattern)
	}
	return id
}

// UnbindMsg removes a subscription and advertises the removal.
func (a *Agent) UnbindMsg(id int) error {
	_, err := a.registry.remove(id)
	if err != nil {
		return err
	}
	for _, p := range a.peers.snapshot() {
		p.RemoveSubscription(id)
	}
	return nil
}

// SendMsg dispatches text to every peer with a matching subscription and
// returns the number of (peer, subscription) pairs it was sent to.
func (a *Agent) SendMsg(text string) int {
	return a.registry.dispatch(text, nil)
}

// SendDirectMsg sends a DIRECT_MSG to one specific peer.
func (a *Agent) SendDirectMsg(peer *Peer, numID int, payload string) {
	peer.SendDirectMessage(numID, payload)
}

// SendDirect iterates peers named name and sends payload as a
// DIRECT_MSG to each, stopping after the first when stopOnFirst is set.
func (a *Agent) SendDirect(name string, numID int, payload string, stopOnFirst bool) {
	for _, p := range a.peers.withName(name) {
		p.SendDirectMessage(numID, payload)
		if stopOnFirst {
			return
		}
	}
}

// SendDieMsg sends a DIE to one peer.
func (a *Agent) SendDieMsg(peer *Peer, numID int, payload string) { peer.SendDie(numID, payload) }

// SendError sends an ERROR to one peer.
func (a *Agent) SendError(peer *Peer, numID int, payload string) { peer.SendError(numID, payload) }

// SendPing pings one peer.
func (a *Agent) SendPing(peer *Peer) { peer.SendPing() }

// TimerRepeatAfter schedules a new timer, see timer.go.
func (a *Agent) TimerRepeatAfter(count int, delayMs int, cb TimerCallback) *Timer {
	return a.timers.add(count, time.Duration(delayMs)*time.Millisecond, cb, a.quit)
}

// TimerModify changes a timer's delay.
func (a *Agent) TimerModify(id int, delayMs int) error {
	t, ok := a.timers.get(id)
	if !ok {
		return &ErrTimerNotFound{ID: id}
	}
	t.Modify(time.Duration(delayMs) * time.Millisecond)
	return nil
}

// TimerRemove aborts and forgets a timer.
func (a *Agent) TimerRemove(id int) {
	a.timers.remove(id)
}
