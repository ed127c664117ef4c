package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types, sent as the first character of a text frame.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineUpgrade = '5'
	engineNoop    = '6'
)

// PacketType is a Socket.IO v5 packet type.
type PacketType byte

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
}

var (
	errEmptyPacket     = errors.New("empty packet")
	errBinaryPacket    = errors.New("binary packets are not supported")
	errNotEvent        = errors.New("packet is not an event")
	errMissingEventArg = errors.New("event packet has no name")
)

// Packet is a decoded Socket.IO packet.
type Packet struct {
	Type      PacketType
	Namespace string // "/" when absent on the wire
	ID        int    // Ack id, valid when HasID
	HasID     bool
	Data      json.RawMessage
}

// OpenPacket is the Engine.IO handshake payload.
type OpenPacket struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // ms
	PingTimeout  int      `json:"pingTimeout"`  // ms
	MaxPayload   int      `json:"maxPayload"`
}

// ConnectError is the payload of a CONNECT_ERROR packet.
type ConnectError struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ConnectError) Error() string {
	return "connect error: " + e.Message
}

// splitEngine separates an Engine.IO frame into its type and payload.
func splitEngine(frame string) (byte, string, error) {
	if frame == "" {
		return 0, "", errEmptyPacket
	}
	return frame[0], frame[1:], nil
}

// parseOpen decodes the payload of an Engine.IO open packet.
func parseOpen(payload string) (OpenPacket, error) {
	var open OpenPacket
	if err := json.Unmarshal([]byte(payload), &open); err != nil {
		return OpenPacket{}, fmt.Errorf("unmarshal open packet: %w", err)
	}
	return open, nil
}

// DecodePacket parses a Socket.IO packet carried in an Engine.IO message.
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, errEmptyPacket
	}

	t := s[0]
	if t < '0' || t > '6' {
		return Packet{}, fmt.Errorf("invalid packet type %q", t)
	}

	p := Packet{Type: PacketType(t - '0'), Namespace: "/"}
	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		return Packet{}, errBinaryPacket
	}

	rest := s[1:]

	if strings.HasPrefix(rest, "/") {
		i := strings.IndexByte(rest, ',')
		if i < 0 {
			p.Namespace = rest
			rest = ""
		} else {
			p.Namespace = rest[:i]
			rest = rest[i+1:]
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(rest[:i])
		if err != nil {
			return Packet{}, fmt.Errorf("parse ack id: %w", err)
		}
		p.ID = id
		p.HasID = true
		rest = rest[i:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, fmt.Errorf("invalid %s payload", p.Type)
		}
		p.Data = json.RawMessage(rest)
	}

	return p, nil
}

// Encode renders the packet in Socket.IO wire format, without the Engine.IO prefix.
func (p Packet) Encode() string {
	var b strings.Builder
	b.WriteByte('0' + byte(p.Type))
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.HasID {
		b.WriteString(strconv.Itoa(p.ID))
	}
	b.Write(p.Data)
	return b.String()
}

// Event returns the event name and its arguments.
func (p Packet) Event() (string, []json.RawMessage, error) {
	if p.Type != PacketEvent {
		return "", nil, errNotEvent
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(p.Data, &parts); err != nil {
		return "", nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, errMissingEventArg
	}

	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("unmarshal event name: %w", err)
	}
	return name, parts[1:], nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Packet Builders
// ─────────────────────────────────────────────────────────────────────────────

// ConnectPacket creates a CONNECT packet for the namespace.
func ConnectPacket(namespace string) Packet {
	return Packet{Type: PacketConnect, Namespace: namespace}
}

// EventPacket creates an EVENT packet carrying name and args.
func EventPacket(namespace, name string, args ...any) (Packet, error) {
	payload := make([]any, 0, len(args)+1)
	payload = append(payload, name)
	payload = append(payload, args...)

	data, err := json.Marshal(payload)
	if err != nil {
		return Packet{}, fmt.Errorf("marshal event %s: %w", name, err)
	}
	return Packet{Type: PacketEvent, Namespace: namespace, Data: data}, nil
}

// engineFrame wraps a Socket.IO packet in an Engine.IO message frame.
func engineFrame(p Packet) string {
	return string(rune(engineMessage)) + p.Encode()
}
