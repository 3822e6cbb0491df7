package ivy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// defaultBusAddr is used when no bus address is given to Start and the
// IVYBUS environment variable is unset, matching the reference
// implementation's own fallback.
const defaultBusAddr = "127:2010"

// busAddr is a decoded bus address: a dotted-quad broadcast/multicast
// target plus the UDP discovery port.
type busAddr struct {
	octets [4]byte
	port   int
}

// decodeBusAddr parses a bus address of the form "A[.B[.C[.D]]]:port".
// Missing trailing octets are padded with 255 (a full subnet broadcast),
// following decode_ivybus in the reference implementation. An empty addr
// falls back to the IVYBUS environment variable, then to
// defaultBusAddr.
func decodeBusAddr(addr string) (busAddr, error) {
	if addr == "" {
		if env := os.Getenv("IVYBUS"); env != "" {
			addr = env
		} else {
			addr = defaultBusAddr
		}
	}

	colon := strings.LastIndexByte(addr, ':')
	if colon < 0 {
		return busAddr{}, &ProtocolError{Reason: fmt.Sprintf("bus address %q is missing a port", addr)}
	}
	hostPart := addr[:colon]
	portPart := addr[colon+1:]

	port, err := strconv.Atoi(portPart)
	if err != nil {
		return busAddr{}, &ProtocolError{Reason: fmt.Sprintf("bus address %q has a non-numeric port", addr)}
	}

	fields := strings.Split(hostPart, ".")
	if len(fields) == 0 || len(fields) > 4 {
		return busAddr{}, &ProtocolError{Reason: fmt.Sprintf("bus address %q has an invalid host part", addr)}
	}

	var ba busAddr
	ba.port = port
	for i := 0; i < 4; i++ {
		if i < len(fields) {
			v, err := strconv.Atoi(fields[i])
			if err != nil || v < 0 || v > 255 {
				return busAddr{}, &ProtocolError{Reason: fmt.Sprintf("bus address %q has an invalid octet %q", addr, fields[i])}
			}
			ba.octets[i] = byte(v)
		} else {
			ba.octets[i] = 255
		}
	}
	return ba, nil
}

// String renders the dotted-quad:port form used for broadcast/multicast
// targeting.
func (b busAddr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", b.octets[0], b.octets[1], b.octets[2], b.octets[3], b.port)
}

// isMulticast reports whether the first octet falls in the 224-239
// range, the IPv4 multicast block: such an address must be joined as a
// multicast group (with a finite TTL) rather than broadcast.
func (b busAddr) isMulticast() bool {
	return b.octets[0] >= 224 && b.octets[0] <= 239
}
