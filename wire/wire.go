// Package wire implements the Ivy bus wire codec: framing, message types
// and the STX/ETX encoding described by the Ivy protocol. A frame is one
// newline-terminated line; decoding and encoding are pure functions, no
// socket I/O happens here.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageType is the integer tag carried at the start of every frame,
// right before the numeric id.
type MessageType int

// Message types, as assigned by the Ivy protocol.
const (
	Bye        MessageType = 0
	AddRegexp  MessageType = 1
	Msg        MessageType = 2
	Error      MessageType = 3
	DelRegexp  MessageType = 4
	EndInit    MessageType = 5
	StartInit  MessageType = 6
	DirectMsg  MessageType = 7
	Die        MessageType = 8
	Ping       MessageType = 9
	Pong       MessageType = 10
)

func (t MessageType) String() string {
	switch t {
	case Bye:
		return "BYE"
	case AddRegexp:
		return "ADD_REGEXP"
	case Msg:
		return "MSG"
	case Error:
		return "ERROR"
	case DelRegexp:
		return "DEL_REGEXP"
	case EndInit:
		return "END_INIT"
	case StartInit:
		return "START_INIT"
	case DirectMsg:
		return "DIRECT_MSG"
	case Die:
		return "DIE"
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

const (
	// ProtocolVersion is the version carried in the UDP discovery
	// datagram; peers announcing a different version are ignored.
	ProtocolVersion = 3

	// STX separates the header ("<type> <num_id>") from the payload.
	stx = "\x02"
	// ETX separates and terminates MSG parameters.
	etx = "\x03"
)

// Encode builds one wire frame. params may be a string (inserted as-is),
// a []string (joined with ETX, trailing ETX appended), or nil/empty
// (no payload at all). The result is newline-terminated and ready to
// write to a socket.
func Encode(msgType MessageType, numID int, params interface{}) []byte {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(msgType)))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(numID))
	b.WriteString(stx)

	switch p := params.(type) {
	case nil:
	case string:
		b.WriteString(p)
	case []string:
		if len(p) > 0 {
			b.WriteString(strings.Join(p, etx))
			b.WriteString(etx)
		}
	default:
		panic(fmt.Sprintf("wire: unsupported params type %T", params))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// Decode splits a single line (without its trailing newline) into its
// message type, numeric id and parameters. It returns MalformedError when
// the type or id are not integers, or the STX separator is missing.
func Decode(line string) (MessageType, int, []string, error) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return 0, 0, nil, &MalformedError{Line: line, Reason: "missing space after message type"}
	}
	typeStr := line[:sp]
	rest := line[sp+1:]

	stxIdx := strings.IndexByte(rest, '\x02')
	if stxIdx < 0 {
		return 0, 0, nil, &MalformedError{Line: line, Reason: "missing STX separator"}
	}
	idStr := rest[:stxIdx]
	payload := rest[stxIdx+1:]

	typeVal, err := strconv.Atoi(typeStr)
	if err != nil {
		return 0, 0, nil, &MalformedError{Line: line, Reason: "non-integer message type"}
	}
	numID, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, 0, nil, &MalformedError{Line: line, Reason: "non-integer numeric id"}
	}

	msgType := MessageType(typeVal)

	var params []string
	var malformed bool
	if msgType == Msg {
		params, malformed = decodeMsgParams(payload)
	} else {
		params, malformed = decodeOtherParams(payload)
	}

	var decodeErr error
	if malformed {
		decodeErr = &MalformedError{Line: line, Reason: "last parameter is not ETX-terminated"}
	}
	return msgType, numID, params, decodeErr
}

// decodeMsgParams implements the special MSG-parameter treatment: when the
// last parameter lacks its trailing ETX, the payload is still accepted
// (the caller is told via the malformed flag so it can log a warning),
// matching the reference ivy-c / ivy-python behaviour.
func decodeMsgParams(payload string) (params []string, malformed bool) {
	if strings.Contains(payload, etx) {
		if strings.HasSuffix(payload, etx) {
			payload = payload[:len(payload)-1]
		} else {
			malformed = true
		}
		params = strings.Split(payload, etx)
		return params, malformed
	}
	if len(payload) > 0 {
		malformed = true
		return []string{payload}, malformed
	}
	return nil, false
}

// decodeOtherParams implements the generic (non-MSG) parameter decoding:
// strip a single trailing ETX if present, then split on ETX. An empty
// payload yields no parameters.
func decodeOtherParams(payload string) (params []string, malformed bool) {
	if payload == "" {
		return nil, false
	}
	if strings.HasSuffix(payload, etx) {
		payload = payload[:len(payload)-1]
	}
	return strings.Split(payload, etx), false
}

// MalformedError is returned by Decode when a frame cannot be parsed at
// all (non-integer type/id or missing STX). A frame accepted despite a
// missing trailing ETX is also reported through this type so callers can
// log-and-continue per spec.
type MalformedError struct {
	Line   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("ivy: malformed message %q: %s", e.Line, e.Reason)
}
