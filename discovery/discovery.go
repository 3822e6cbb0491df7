// Package discovery implements the Ivy bus's UDP announce/listen loop: a
// single socket bound to the bus port that broadcasts (or multicasts) one
// "here I am" datagram on startup and then watches for the same datagram
// from other agents, handing each acceptable one to its caller as an
// Announcement.
//
// This is a from-scratch rework, in the spirit of the teacher's own
// beacon package (one socket, join-the-multicast-group-if-applicable,
// a background listen loop pushing onto a channel), of the opaque
// publish/subscribe byte-blob beacon into Ivy's fixed four-field
// datagram grammar.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ProtocolVersion is the version announced in every datagram; datagrams
// announcing a different version are ignored.
const ProtocolVersion = 3

// recvTimeout bounds each read so the listen loop can observe Stop
// promptly, matching spec.md §5's "every recv uses a short timeout"
// requirement.
const recvTimeout = 100 * time.Millisecond

// Announcement is one accepted discovery datagram: a candidate peer to
// connect out to.
type Announcement struct {
	IP        string
	Port      int // the peer's TCP listening port
	AgentID   string
	AgentName string
}

// Logger is the small subset of ivy's agentLogger that this package
// needs; kept as an interface here to avoid an import cycle with
// package ivy (which imports discovery).
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// nopLogger discards everything; used when no Logger is supplied.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Service runs the discovery broadcast/listen loop for one agent.
type Service struct {
	conn *net.UDPConn

	target    *net.UDPAddr // where we send our own announcement
	busPort   int
	multicast bool
	selfID    string
	agentName string
	tcpPort   int

	events chan Announcement
	quit   chan struct{}
	done   chan struct{}

	logger Logger
}

// Config bundles the parameters needed to start a Service.
type Config struct {
	// BusIP is the dotted-quad broadcast or multicast target (already
	// padded per decode_ivybus rules); BusPort is the UDP port shared
	// by every agent on this bus.
	BusIP   string
	BusPort int

	// Multicast, when true, joins BusIP as a multicast group with
	// TTL 64 instead of treating it as a broadcast target.
	Multicast bool

	AgentID   string
	AgentName string
	TCPPort   int

	Logger Logger
}

// New creates a Service bound to the bus's UDP port. The socket is not
// opened until Start is called.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Service{
		target:    &net.UDPAddr{IP: net.ParseIP(cfg.BusIP), Port: cfg.BusPort},
		busPort:   cfg.BusPort,
		multicast: cfg.Multicast,
		selfID:    cfg.AgentID,
		agentName: cfg.AgentName,
		tcpPort:   cfg.TCPPort,
		events:    make(chan Announcement, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Start opens the UDP socket (joining the multicast group when the bus
// address calls for it), sends the startup announcement, and begins the
// background receive loop.
func (s *Service) Start() error {
	var conn *net.UDPConn
	var err error

	if s.multicast {
		conn, err = net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: s.target.IP, Port: s.busPort})
		if err == nil {
			if raw, rawErr := conn.SyscallConn(); rawErr == nil {
				raw.Control(func(fd uintptr) {
					if sockErr := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_TTL, 64); sockErr != nil {
						s.logger.Warnf("discovery: setting multicast TTL failed: %v", sockErr)
					}
				})
			}
		}
	} else {
		lc := net.ListenConfig{Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if ctrlErr := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		}}
		var pc net.PacketConn
		pc, err = lc.ListenPacket(context.Background(), "udp4", ":"+strconv.Itoa(s.busPort))
		if err == nil {
			conn = pc.(*net.UDPConn)
			if sockErr := setBroadcast(conn); sockErr != nil {
				s.logger.Warnf("discovery: SO_BROADCAST unavailable: %v", sockErr)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("discovery: bind udp: %w", err)
	}
	s.conn = conn

	if err := s.announce(); err != nil {
		s.logger.Warnf("discovery: initial announce failed: %v", err)
	}

	go s.listen()
	return nil
}

// announce sends one "<version> <port> <id> <name>\n" datagram to the
// bus target, per spec.md §4.4.
func (s *Service) announce() error {
	datagram := fmt.Sprintf("%d %d %s %s\n", ProtocolVersion, s.tcpPort, s.selfID, s.agentName)
	_, err := s.conn.WriteToUDP([]byte(datagram), s.target)
	return err
}

// Events returns the channel on which accepted announcements from other
// agents are delivered.
func (s *Service) Events() <-chan Announcement {
	return s.events
}

// Stop closes the socket and waits for the listen loop to exit.
func (s *Service) Stop() {
	close(s.quit)
	if s.conn != nil {
		s.conn.Close()
	}
	<-s.done
}

func (s *Service) listen() {
	defer close(s.done)
	buf := make([]byte, 1024)

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(recvTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.quit:
				return
			default:
				continue
			}
		}

		ann, ok := s.parse(string(buf[:n]), addr.IP.String())
		if !ok {
			continue
		}
		select {
		case s.events <- ann:
		case <-s.quit:
			return
		}
	}
}

// parse validates and decodes one datagram body, applying the
// version-check and self-id-drop rules from spec.md §4.4 steps 1-2. The
// existing-peer and connect-failure drops (steps 3-4) are the caller's
// responsibility, since they require the peers directory.
func (s *Service) parse(body, fromIP string) (Announcement, bool) {
	body = strings.TrimRight(body, "\r\n")
	fields := strings.SplitN(body, " ", 4)
	if len(fields) != 4 {
		s.logger.Debugf("discovery: dropping malformed datagram from %s: %q", fromIP, body)
		return Announcement{}, false
	}

	version, err := strconv.Atoi(fields[0])
	if err != nil || version != ProtocolVersion {
		s.logger.Debugf("discovery: dropping datagram with protocol version %q from %s", fields[0], fromIP)
		return Announcement{}, false
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		s.logger.Debugf("discovery: dropping datagram with non-numeric port from %s", fromIP)
		return Announcement{}, false
	}
	agentID := fields[2]
	agentName := fields[3]

	if agentID == s.selfID {
		return Announcement{}, false
	}

	return Announcement{IP: fromIP, Port: port, AgentID: agentID, AgentName: agentName}, true
}

// setBroadcast sets SO_BROADCAST on the socket backing conn, required to
// send to a directed-broadcast address like 127.255.255.255 (spec.md
// §4.4). Multicast sockets never need this, since a multicast send never
// targets a broadcast address.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
