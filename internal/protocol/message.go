package protocol

import "encoding/json"

const (
	// Version is the signaling protocol version reported by the info event.
	Version = "1.0.0"

	// Identifier is the WebSocket subprotocol clients must request during the
	// handshake: "palava." plus the major.minor of Version.
	Identifier = "palava.1.0"
)

// Administrative WebSocket close codes.
const (
	CloseCodeHandshake = 4242
	CloseCodeShutdown  = 4200
)

// ParseError is a malformed-frame error. Its text is sent verbatim to the
// client as an error event; parsing errors never close the connection.
type ParseError string

func (e ParseError) Error() string { return string(e) }

const (
	ErrInvalidMessage = ParseError("invalid message")
	ErrNoEventGiven   = ParseError("no event given")
	ErrUnknownEvent   = ParseError("unknown event")
)

type EventName string

const (
	EventInfo         EventName = "info"
	EventJoinRoom     EventName = "join_room"
	EventLeaveRoom    EventName = "leave_room"
	EventSendToPeer   EventName = "send_to_peer"
	EventUpdateStatus EventName = "update_status"
)

// Status holds the optional per-connection attributes attached while the
// connection is a room member.
type Status map[string]string

// ClientMessage is one decoded inbound frame. Only the fields named by the
// event's schema are populated; absent or mistyped fields stay at their zero
// value and are rejected downstream where required.
type ClientMessage struct {
	Event  EventName
	RoomID string
	Status Status
	PeerID string
	Data   json.RawMessage
}

// ParseClientMessage decodes an inbound text frame. The top-level payload
// must be a JSON object carrying an "event" field naming a known event.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return ClientMessage{}, ErrInvalidMessage
	}

	rawEvent, ok := fields["event"]
	if !ok {
		return ClientMessage{}, ErrNoEventGiven
	}
	var name string
	if err := json.Unmarshal(rawEvent, &name); err != nil || name == "" {
		return ClientMessage{}, ErrNoEventGiven
	}

	msg := ClientMessage{Event: EventName(name)}
	switch msg.Event {
	case EventInfo, EventLeaveRoom:
	case EventJoinRoom:
		msg.RoomID = stringField(fields, "room_id")
		msg.Status = statusField(fields)
	case EventUpdateStatus:
		msg.Status = statusField(fields)
	case EventSendToPeer:
		msg.PeerID = stringField(fields, "peer_id")
		msg.Data = fields["data"]
	default:
		return ClientMessage{}, ErrUnknownEvent
	}
	return msg, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func statusField(fields map[string]json.RawMessage) Status {
	raw, ok := fields["status"]
	if !ok {
		return nil
	}
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil
	}
	return status
}
