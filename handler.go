package ivy

import (
	"bufio"
	"net"
	"strconv"
	"time"

	"github.com/sbigaret/ivy-go/wire"
)

// recvTimeout bounds each frame read so the handler can observe shutdown
// promptly, matching spec.md §5.
const recvTimeout = 100 * time.Millisecond

// handleInbound runs the handler for a connection we accepted: the peer
// is not yet registered, so it is registered here using the socket's
// remote address (spec.md §4.5 step 2).
func (a *Agent) handleInbound(conn net.Conn) {
	ip, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}
	port, _ := strconv.Atoi(portStr)

	peer := newPeer(ip, port, conn, a.logger)
	if err := a.peers.register(peer); err != nil {
		a.logger.warnf("inbound from %s:%d rejected: %v", ip, port, err)
		conn.Close()
		return
	}
	a.runHandler(peer)
}

// handleOutbound runs the handler for a connection we dialed in response
// to a discovery announcement. ip/port are the announcement's sender IP
// and announced tcp_port, which is the directory key discovery uses; agentID is
// the announcement's agent_id, recorded on the Peer so a later
// announcement can be recognized as the same agent reconnecting under a
// new ephemeral port (see Agent.handleAnnouncement).
func (a *Agent) handleOutbound(conn net.Conn, ip string, port int, agentID string) {
	peer := newPeer(ip, port, conn, a.logger)
	peer.RemoteListenPort = port
	peer.RemoteID = agentID
	if err := a.peers.register(peer); err != nil {
		a.logger.warnf("outbound to %s:%d rejected: %v", ip, port, err)
		conn.Close()
		return
	}
	a.runHandler(peer)
}

// runHandler sends the three-frame handshake, then reads and dispatches
// frames until EOF, a transport error, BYE, or shutdown. On exit the
// peer is always removed from the directory and its subscriptions
// purged; the disconnected callback fires only if connected had
// previously fired.
func (a *Agent) runHandler(peer *Peer) {
	a.sendHandshake(peer)

	wasConnected := false
	reader := bufio.NewReader(peer.conn)
	pending := ""

	defer func() {
		a.peers.remove(peer.IP, peer.Port)
		a.registry.unbindAll(peer)
		peer.close()
		if wasConnected {
			a.invokeDisconnect(peer)
		}
	}()

	for {
		select {
		case <-a.quit:
			return
		default:
		}

		peer.conn.SetReadDeadline(time.Now().Add(recvTimeout))
		chunk, err := reader.ReadString('\n')
		pending += chunk
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue // keep any partial frame until its newline arrives
			}
			return // EOF or other transport error: peer is gone
		}
		line := pending
		pending = ""

		keepGoing := a.dispatchFrame(peer, line[:len(line)-1], &wasConnected)
		if !keepGoing {
			return
		}
	}
}

// sendHandshake emits START_INIT, one ADD_REGEXP per current
// subscription, then END_INIT, per spec.md §4.5 step 1. These must reach
// the peer before local status gating would otherwise suppress them, so
// writeFrame is used directly instead of the status-gated send helpers.
func (a *Agent) sendHandshake(peer *Peer) {
	peer.writeFrame(wire.StartInit, a.port, a.AgentName)
	for _, sub := range a.registry.all() {
		peer.writeFrame(wire.AddRegexp, sub.ID, sub.Regexp)
	}
	peer.writeFrame(wire.EndInit, 0, nil)
}

// dispatchFrame decodes and acts on one line per the message-type table
// in spec.md §4.5. It returns false when the connection should be
// closed (BYE, or an unvetoed DIE).
func (a *Agent) dispatchFrame(peer *Peer, line string, wasConnected *bool) bool {
	msgType, numID, params, err := wire.Decode(line)
	if err != nil {
		a.logger.warnf("malformed frame from %s: %v", peer, err)
		// A MSG whose last parameter lacks its ETX still decodes to
		// parameters; it is logged above and then processed.
		if params == nil {
			return true
		}
	}

	switch msgType {
	case wire.StartInit:
		name := ""
		if len(params) > 0 {
			name = params[0]
		}
		peer.setRemoteListenPort(numID)
		if err := peer.StartInit(name); err != nil {
			a.logger.warnf("protocol error from %s: %v", peer, err)
			return false
		}

	case wire.AddRegexp:
		pattern := ""
		if len(params) > 0 {
			pattern = params[0]
		}
		if err := a.registry.bind(peer, numID, pattern); err != nil {
			a.logger.warnf("invalid regexp from %s: %v", peer, err)
			return true
		}
		a.invokeRegexpChange(peer, RegexpAdded, numID, pattern)

	case wire.DelRegexp:
		pattern, ok := a.registry.unbind(peer, numID)
		if ok {
			a.invokeRegexpChange(peer, RegexpRemoved, numID, pattern)
		}

	case wire.EndInit:
		if err := peer.EndInit(); err != nil {
			a.logger.warnf("protocol error from %s: %v", peer, err)
			return false
		}
		*wasConnected = true
		a.invokeConnect(peer)
		if a.readyMessage != "" {
			a.registry.dispatch(a.readyMessage, peer)
		}

	case wire.Msg:
		sub, ok := a.registry.get(numID)
		if !ok || sub.callback == nil {
			return true
		}
		a.invokeSubscription(sub.callback, peer, params)

	case wire.DirectMsg:
		payload := ""
		if len(params) > 0 {
			payload = params[0]
		}
		a.invokeDirectMsg(peer, numID, payload)

	case wire.Error:
		a.logger.warnf("ERROR from %s: %v", peer, params)

	case wire.Ping:
		peer.SendPong(numID)

	case wire.Pong:
		delta, ok := peer.NextPingDelta()
		if !ok {
			a.logger.warnf("unsolicited PONG from %s, ignored", peer)
			return true
		}
		a.invokePong(peer, delta)

	case wire.Die:
		if veto := a.invokeDie(peer, numID); !veto {
			go a.Stop()
			return false
		}

	case wire.Bye:
		return false

	default:
		a.logger.warnf("unknown message type %d from %s", msgType, peer)
	}

	return true
}

// invokeSubscription wraps a subscription callback the same way
// callbacks.go wraps application callbacks, so a panicking subscription
// handler cannot break dispatch for other subscribers.
func (a *Agent) invokeSubscription(cb SubscriptionCallback, peer *Peer, captures []string) {
	defer a.recoverCallback("subscription", peer)
	cb(peer, captures...)
}
