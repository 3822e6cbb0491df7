package ivy

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sbigaret/ivy-go/wire"
)

// Status is a Peer's position in the handshake state machine.
type Status int

const (
	NotInitialized Status = iota
	InitializationInProgress
	Initialized
)

func (s Status) String() string {
	switch s {
	case NotInitialized:
		return "NOT_INITIALIZED"
	case InitializationInProgress:
		return "INITIALIZATION_IN_PROGRESS"
	case Initialized:
		return "INITIALIZED"
	default:
		return "UNKNOWN"
	}
}

// Peer represents a remote agent connected to us over TCP. It is created
// either when we accept an inbound connection or when discovery hands us
// an outbound one, and is co-referenced by the peers directory and by its
// own handler goroutine; Peer.send is therefore safe to call concurrently
// with the handler tearing the connection down.
type Peer struct {
	IP   string
	Port int

	conn   net.Conn
	writer *bufio.Writer
	connMu sync.Mutex // guards writer; conn itself is only closed once

	RemoteID   string
	RemoteName string
	// RemoteListenPort is the peer's own TCP listening port, as
	// announced as the numeric id of its START_INIT frame. It differs from Port
	// (the connection's remote address) for peers that connected to
	// us rather than the other way around.
	RemoteListenPort int

	statusMu sync.Mutex
	status   Status

	pingMu sync.Mutex
	pingTS []int64 // monotonic nanosecond timestamps, FIFO

	logger *agentLogger
}

func newPeer(ip string, port int, conn net.Conn, logger *agentLogger) *Peer {
	return &Peer{
		IP:     ip,
		Port:   port,
		conn:   conn,
		writer: bufio.NewWriter(conn),
		logger: logger,
	}
}

// key returns the peers-directory key for this peer.
func (p *Peer) key() peerKey { return peerKey{ip: p.IP, port: p.Port} }

// GetStatus returns the peer's current handshake status.
func (p *Peer) GetStatus() Status {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

// StartInit transitions NOT_INITIALIZED -> INITIALIZATION_IN_PROGRESS and
// records the remote agent's name. It fails if called more than once.
func (p *Peer) StartInit(remoteName string) error {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if p.status != NotInitialized {
		return &ProtocolError{Reason: "START_INIT received more than once"}
	}
	p.RemoteName = remoteName
	p.status = InitializationInProgress
	return nil
}

// setRemoteListenPort records the peer's own TCP listening port, carried
// as the numeric id of the START_INIT frame.
func (p *Peer) setRemoteListenPort(port int) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.RemoteListenPort = port
}

// EndInit transitions INITIALIZATION_IN_PROGRESS -> INITIALIZED. It fails
// if the peer is already initialized.
func (p *Peer) EndInit() error {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if p.status == Initialized {
		return &ProtocolError{Reason: "END_INIT received more than once"}
	}
	p.status = Initialized
	return nil
}

func (p *Peer) isInitialized() bool {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status == Initialized
}

// SendMessage emits a MSG frame carrying the capture groups matched by
// subID's regexp. No-op when the peer isn't initialized.
func (p *Peer) SendMessage(subID int, captures []string) {
	p.send(wire.Msg, subID, captures)
}

// SendDirectMessage emits a DIRECT_MSG frame.
func (p *Peer) SendDirectMessage(numID int, payload string) {
	p.send(wire.DirectMsg, numID, payload)
}

// SendDie emits a DIE frame.
func (p *Peer) SendDie(numID int, payload string) {
	p.send(wire.Die, numID, payload)
}

// SendError emits an ERROR frame.
func (p *Peer) SendError(numID int, payload string) {
	p.send(wire.Error, numID, payload)
}

// WaveBye emits a BYE frame, notifying the peer that we are quitting.
func (p *Peer) WaveBye(numID int) {
	p.send(wire.Bye, numID, nil)
}

// SendNewSubscription emits an ADD_REGEXP frame.
func (p *Peer) SendNewSubscription(id int, regexp string) {
	p.send(wire.AddRegexp, id, regexp)
}

// RemoveSubscription emits a DEL_REGEXP frame.
func (p *Peer) RemoveSubscription(id int) {
	p.send(wire.DelRegexp, id, nil)
}

// SendPing pushes the current time onto the ping queue and emits PING(0).
func (p *Peer) SendPing() {
	p.pingMu.Lock()
	p.pingTS = append(p.pingTS, time.Now().UnixNano())
	p.pingMu.Unlock()
	p.send(wire.Ping, 0, nil)
}

// SendPong emits a PONG frame in reply to a PING carrying numID.
func (p *Peer) SendPong(numID int) {
	p.send(wire.Pong, numID, nil)
}

// NextPingDelta pops the oldest outstanding ping timestamp and returns the
// elapsed time since it was sent, or false if no ping is outstanding.
func (p *Peer) NextPingDelta() (time.Duration, bool) {
	p.pingMu.Lock()
	defer p.pingMu.Unlock()
	if len(p.pingTS) == 0 {
		return 0, false
	}
	ts := p.pingTS[0]
	p.pingTS = p.pingTS[1:]
	return time.Duration(time.Now().UnixNano() - ts), true
}

// send encodes and writes a frame, swallowing transport errors at info
// level: the read side of the connection will shortly detect the dead
// peer and trigger cleanup, so dispatch must not abort on a single
// failing send.
func (p *Peer) send(msgType wire.MessageType, numID int, params interface{}) {
	if !p.isInitialized() {
		return
	}
	p.writeFrame(msgType, numID, params)
}

// writeFrame encodes and writes a frame unconditionally. It is used both
// by send (status-gated) and by the handshake sequence, which must reach
// the peer before the local Peer is marked INITIALIZED.
func (p *Peer) writeFrame(msgType wire.MessageType, numID int, params interface{}) {
	frame := wire.Encode(msgType, numID, params)

	p.connMu.Lock()
	defer p.connMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := p.writer.Write(frame); err != nil {
		p.logger.infof("[ignored] error sending %s to %s: %v", msgType, p, err)
		return
	}
	if err := p.writer.Flush(); err != nil {
		p.logger.infof("[ignored] error flushing %s to %s: %v", msgType, p, err)
	}
}

func (p *Peer) close() error {
	return p.conn.Close()
}

func (p *Peer) String() string {
	name := p.RemoteName
	if name == "" {
		name = "?"
	}
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port)) + " (" + name + ")"
}
