// Package rooms implements the room coordinator: join/leave/update-status
// and relay semantics on top of the shared room store.
package rooms

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/palavatv/palava-machine/internal/protocol"
	"github.com/palavatv/palava-machine/internal/store"
)

// MessageError is a business-rule violation tied to a specific connection.
// Its text is sent verbatim to the client as an error event.
type MessageError string

func (e MessageError) Error() string { return string(e) }

const (
	ErrNoRoomID         = MessageError("no room id given")
	ErrRoomIDTooLong    = MessageError("room id too long")
	ErrAlreadyJoined    = MessageError("already joined another room")
	ErrNotInRoom        = MessageError("currently not in any room")
	ErrUnknownPeer      = MessageError("unknown peer")
	ErrEventNotAllowed  = MessageError("event not allowed")
	ErrRawData          = MessageError("cannot send raw data")
	ErrBlankName        = MessageError("blank name not allowed")
	ErrNameTooLong      = MessageError("name too long")
	ErrUnknownUserAgent = MessageError("unknown user agent")
)

const (
	maxRoomIDLength = 50
	maxNameLength   = 50
)

var allowedUserAgents = map[string]bool{
	"firefox": true,
	"chrome":  true,
	"unknown": true,
}

var allowedRelayEvents = map[string]bool{
	"offer":         true,
	"answer":        true,
	"ice_candidate": true,
}

// HashRoomID derives the room key from a user-supplied room name. Clients
// never see or address rooms by the raw name.
func HashRoomID(roomID string) string {
	sum := sha512.Sum512([]byte(roomID))
	return hex.EncodeToString(sum[:])
}

// Coordinator serializes all room-mutating operations through the shared
// store's atomic transitions. It holds no membership state of its own.
type Coordinator struct {
	store *store.RoomStore
	log   *slog.Logger
	now   func() time.Time
}

func NewCoordinator(st *store.RoomStore, log *slog.Logger) *Coordinator {
	return &Coordinator{store: st, log: log, now: time.Now}
}

// Join adds the connection to the named room and returns the pre-existing
// members with their persisted statuses.
//
// The current-room check and the join transition are two separate store
// operations; two join_room frames racing across a reconnect could pass the
// check twice before either commits. This is a known limitation kept from
// the observed behavior rather than folded into the transition script.
func (c *Coordinator) Join(ctx context.Context, connectionID, roomID string, status protocol.Status) ([]protocol.Peer, error) {
	if roomID == "" {
		return nil, ErrNoRoomID
	}
	if utf8.RuneCountInString(roomID) > maxRoomIDLength {
		return nil, ErrRoomIDTooLong
	}

	current, err := c.store.CurrentRoom(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if current != "" {
		return nil, ErrAlreadyJoined
	}

	hashed := HashRoomID(roomID)
	c.log.Info("join", "connection_id", connectionID, "room", hashed[:11])

	// The new_peer payload is built before status validation on purpose:
	// existing members learn about the joiner immediately, and a sanitized
	// status follows as a separate peer_updated_status if needed.
	members, err := c.store.Join(ctx, connectionID, hashed, protocol.NewPeer(connectionID, status), c.now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := c.persistStatus(ctx, connectionID, status); err != nil {
		return nil, err
	}

	peers := make([]protocol.Peer, 0, len(members))
	for _, peerID := range members {
		peerStatus, err := c.store.Status(ctx, peerID)
		if err != nil {
			// The member may be leaving concurrently; degrade to an empty
			// status instead of failing the whole join.
			peerStatus = map[string]string{}
		}
		peers = append(peers, protocol.Peer{PeerID: peerID, Status: protocol.Status(peerStatus)})
	}
	return peers, nil
}

// Leave removes the connection from its current room. Leaving while not in a
// room is a silent no-op: unannounced socket closes race with normal
// processing, so this must always tolerate a missing room pointer.
func (c *Coordinator) Leave(ctx context.Context, connectionID string) error {
	roomID, err := c.store.CurrentRoom(ctx, connectionID)
	if err != nil {
		return err
	}
	if roomID == "" {
		return nil
	}

	c.log.Info("leave", "connection_id", connectionID, "room", roomID[:11])
	return c.store.Leave(ctx, connectionID, roomID, protocol.PeerLeft(connectionID), c.now().UTC())
}

// UpdateStatus validates and persists the supplied status fields, then
// broadcasts peer_updated_status to every member of the connection's room,
// the sender included. Supplying no fields is a silent no-op.
func (c *Coordinator) UpdateStatus(ctx context.Context, connectionID string, status protocol.Status) error {
	roomID, err := c.store.CurrentRoom(ctx, connectionID)
	if err != nil {
		return err
	}
	if roomID == "" {
		return ErrNotInRoom
	}

	persisted, err := c.persistStatus(ctx, connectionID, status)
	if err != nil {
		return err
	}
	if persisted == nil {
		return nil
	}

	members, err := c.store.Members(ctx, roomID)
	if err != nil {
		return err
	}
	payload := protocol.PeerUpdatedStatus(connectionID, status)
	for _, peerID := range members {
		if err := c.store.Publish(ctx, peerID, payload); err != nil {
			return err
		}
	}
	return nil
}

// SendToPeer relays a structured payload to another member of the sender's
// room, with the sender's connection id attached as sender_id.
func (c *Coordinator) SendToPeer(ctx context.Context, connectionID, peerID string, data json.RawMessage) error {
	var payload map[string]any
	if len(data) == 0 || json.Unmarshal(data, &payload) != nil || payload == nil {
		return ErrRawData
	}

	roomID, err := c.store.CurrentRoom(ctx, connectionID)
	if err != nil {
		return err
	}
	if roomID == "" {
		return ErrNotInRoom
	}

	isMember, err := c.store.IsMember(ctx, roomID, peerID)
	if err != nil {
		return err
	}
	if !isMember {
		return ErrUnknownPeer
	}

	event, _ := payload["event"].(string)
	if !allowedRelayEvents[event] {
		return ErrEventNotAllowed
	}

	payload["sender_id"] = connectionID
	relayed, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode relay payload: %w", err)
	}
	return c.store.Publish(ctx, peerID, relayed)
}

// persistStatus validates the supplied fields and writes the accepted subset
// to the store. The name is sanitized in place so callers broadcasting the
// input afterwards carry the sanitized value. Returns nil when nothing was
// persisted.
func (c *Coordinator) persistStatus(ctx context.Context, connectionID string, status protocol.Status) (protocol.Status, error) {
	if len(status) == 0 {
		return nil, nil
	}

	persisted := protocol.Status{}
	if name, ok := status["name"]; ok {
		if strings.TrimSpace(name) == "" {
			return nil, ErrBlankName
		}
		if utf8.RuneCountInString(name) > maxNameLength {
			return nil, ErrNameTooLong
		}
		if !isASCII(name) {
			// Silent, length-preserving sanitization: never reject non-ASCII.
			name = strings.Repeat("*", utf8.RuneCountInString(name))
			status["name"] = name
		}
		persisted["name"] = name
	}
	if userAgent, ok := status["user_agent"]; ok {
		if !allowedUserAgents[userAgent] {
			return nil, ErrUnknownUserAgent
		}
		persisted["user_agent"] = userAgent
	}
	if len(persisted) == 0 {
		return nil, nil
	}

	if err := c.store.SetStatus(ctx, connectionID, persisted); err != nil {
		return nil, err
	}
	return persisted, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
