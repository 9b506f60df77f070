package protocol

import "encoding/json"

// Peer is one pre-existing room member in a joined_room reply.
type Peer struct {
	PeerID string `json:"peer_id"`
	Status Status `json:"status"`
}

type infoPayload struct {
	Event           string `json:"event"`
	ProtocolVersion string `json:"protocol_version"`
}

type errorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type joinedRoomPayload struct {
	Event string `json:"event"`
	OwnID string `json:"own_id"`
	Peers []Peer `json:"peers"`
}

type newPeerPayload struct {
	Event  string `json:"event"`
	PeerID string `json:"peer_id"`
	Status Status `json:"status,omitempty"`
}

type peerLeftPayload struct {
	Event    string `json:"event"`
	SenderID string `json:"sender_id"`
}

type peerUpdatedStatusPayload struct {
	Event    string `json:"event"`
	Status   Status `json:"status"`
	SenderID string `json:"sender_id"`
}

type shutdownPayload struct {
	Event   string `json:"event"`
	Seconds int    `json:"seconds"`
}

// Info is the reply to an info event.
func Info() []byte {
	return marshal(infoPayload{Event: "info", ProtocolVersion: Version})
}

// ErrorPayload converts a parsing or semantic error message into the error
// event sent back to the originating connection.
func ErrorPayload(message string) []byte {
	return marshal(errorPayload{Event: "error", Message: message})
}

// JoinedRoom is the reply to a successful join. peers must be non-nil so
// first joiners see an empty list, not null.
func JoinedRoom(ownID string, peers []Peer) []byte {
	if peers == nil {
		peers = []Peer{}
	}
	return marshal(joinedRoomPayload{Event: "joined_room", OwnID: ownID, Peers: peers})
}

// NewPeer is published to existing members when a connection joins their
// room. The status field is carried only when the joiner supplied one.
func NewPeer(peerID string, status Status) []byte {
	return marshal(newPeerPayload{Event: "new_peer", PeerID: peerID, Status: status})
}

// PeerLeft is published to remaining members when a connection leaves.
func PeerLeft(senderID string) []byte {
	return marshal(peerLeftPayload{Event: "peer_left", SenderID: senderID})
}

// PeerUpdatedStatus is published to every member of the sender's room,
// including the sender itself.
func PeerUpdatedStatus(senderID string, status Status) []byte {
	return marshal(peerUpdatedStatusPayload{Event: "peer_updated_status", Status: status, SenderID: senderID})
}

// Shutdown is broadcast to locally attached sockets before an administrative
// close.
func Shutdown(seconds int) []byte {
	return marshal(shutdownPayload{Event: "shutdown", Seconds: seconds})
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All payload types above marshal without error.
		panic(err)
	}
	return b
}
