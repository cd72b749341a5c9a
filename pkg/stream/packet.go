package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Engine.IO v4 packet types.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	socketConnect      byte = '0'
	socketDisconnect   byte = '1'
	socketEvent        byte = '2'
	socketAck          byte = '3'
	socketConnectError byte = '4'
)

var errEmptyPacket = errors.New("empty packet")

type packet struct {
	engine byte
	socket byte
	data   []byte
}

// openPayload is the body of the server's Engine.IO open packet.
type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// readTimeout is how long the server may stay silent before the session is
// considered dead: one ping interval plus the ping timeout.
func (o openPayload) readTimeout() time.Duration {
	if o.PingInterval <= 0 {
		return 0
	}
	return time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
}

type connectError struct {
	Message string `json:"message"`
}

func decodePacket(b []byte) (packet, error) {
	if len(b) == 0 {
		return packet{}, errEmptyPacket
	}
	p := packet{engine: b[0], data: b[1:]}
	if p.engine != engineMessage {
		return p, nil
	}
	if len(p.data) == 0 {
		return packet{}, fmt.Errorf("message packet without socket type")
	}
	p.socket = p.data[0]
	rest := p.data[1:]

	// Optional "/namespace," prefix.
	if len(rest) > 0 && rest[0] == '/' {
		if i := bytes.IndexByte(rest, ','); i >= 0 {
			rest = rest[i+1:]
		} else {
			rest = nil
		}
	}
	// Optional ack id.
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		rest = rest[1:]
	}
	p.data = rest
	return p, nil
}

// event splits an event packet body into its name and first argument.
func (p packet) event() (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(p.data, &args); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("event without name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(args) > 1 {
		return name, args[1], nil
	}
	return name, nil, nil
}

func encodeEvent(name string, args ...any) ([]byte, error) {
	body := make([]any, 0, len(args)+1)
	body = append(body, name)
	body = append(body, args...)
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return append([]byte{engineMessage, socketEvent}, b...), nil
}

func encodeConnect(auth any) ([]byte, error) {
	out := []byte{engineMessage, socketConnect}
	if auth == nil {
		return out, nil
	}
	b, err := json.Marshal(auth)
	if err != nil {
		return nil, err
	}
	return append(out, b...), nil
}
