package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/palavatv/palava-machine/internal/protocol"
	"github.com/palavatv/palava-machine/internal/rooms"
	"github.com/palavatv/palava-machine/internal/store"
)

// Options tunes per-connection limits and the browser origin policy.
type Options struct {
	// MaxMessageBytes caps inbound frames. Zero leaves the connection's
	// default limit in place.
	MaxMessageBytes int64

	// AllowedOrigins restricts the Origin header during the upgrade. Empty
	// admits every origin.
	AllowedOrigins []string
}

// Dispatcher upgrades WebSocket connections, feeds inbound frames to the
// room coordinator, and routes pub/sub deliveries back to the attached
// clients.
type Dispatcher struct {
	coordinator *rooms.Coordinator
	subscriber  *store.Subscriber
	registry    *Registry
	log         *slog.Logger
	upgrader    websocket.Upgrader
	readLimit   int64
}

func NewDispatcher(coordinator *rooms.Coordinator, subscriber *store.Subscriber, registry *Registry, log *slog.Logger, opts Options) *Dispatcher {
	return &Dispatcher{
		coordinator: coordinator,
		subscriber:  subscriber,
		registry:    registry,
		log:         log,
		readLimit:   opts.MaxMessageBytes,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{protocol.Identifier},
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, opts.AllowedOrigins)
			},
		},
	}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requested := r.Header.Get("Sec-WebSocket-Protocol")
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// The subprotocol check happens after the upgrade so the rejection can be
	// delivered over the open socket before the administrative close.
	if conn.Subprotocol() != protocol.Identifier {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, protocol.ErrorPayload("incompatible sub-protocol: "+requested))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(protocol.CloseCodeHandshake, ""), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	if d.readLimit > 0 {
		conn.SetReadLimit(d.readLimit)
	}

	client := newClient(conn, d.log)
	ctx := context.Background()
	if err := d.subscriber.Subscribe(ctx, client.ID()); err != nil {
		client.log.Error("subscribe failed", "error", err)
		client.close(websocket.CloseInternalServerErr, "")
		return
	}
	d.registry.Add(client)
	go client.writePump()
	client.log.Info("connected")

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			break
		}
		d.handleMessage(ctx, client, data)
	}

	d.registry.Remove(client.ID())
	if err := d.coordinator.Leave(ctx, client.ID()); err != nil {
		client.log.Error("leave on disconnect failed", "error", err)
	}
	if err := d.subscriber.Unsubscribe(ctx, client.ID()); err != nil {
		client.log.Error("unsubscribe failed", "error", err)
	}
	client.close(websocket.CloseNormalClosure, "")
	client.log.Info("disconnected")
}

func (d *Dispatcher) handleMessage(ctx context.Context, client *Client, data []byte) {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		client.Send(protocol.ErrorPayload(err.Error()))
		return
	}

	switch msg.Event {
	case protocol.EventInfo:
		client.Send(protocol.Info())
	case protocol.EventJoinRoom:
		peers, err := d.coordinator.Join(ctx, client.ID(), msg.RoomID, msg.Status)
		if err != nil {
			d.reportError(client, err)
			return
		}
		client.Send(protocol.JoinedRoom(client.ID(), peers))
	case protocol.EventLeaveRoom:
		if err := d.coordinator.Leave(ctx, client.ID()); err != nil {
			d.reportError(client, err)
		}
	case protocol.EventUpdateStatus:
		if err := d.coordinator.UpdateStatus(ctx, client.ID(), msg.Status); err != nil {
			d.reportError(client, err)
		}
	case protocol.EventSendToPeer:
		if err := d.coordinator.SendToPeer(ctx, client.ID(), msg.PeerID, msg.Data); err != nil {
			d.reportError(client, err)
		}
	}
}

// reportError sends business-rule violations back to the client. Anything
// else is an infrastructure failure and is only logged; the connection stays
// open either way.
func (d *Dispatcher) reportError(client *Client, err error) {
	var msgErr rooms.MessageError
	if errors.As(err, &msgErr) {
		client.Send(protocol.ErrorPayload(msgErr.Error()))
		return
	}
	client.log.Error("operation failed", "error", err)
}

// Run routes pub/sub deliveries to their locally attached clients until the
// context is canceled or the subscriber closes. Deliveries for connections
// held by other processes never reach this subscriber.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-d.subscriber.Messages():
			if !ok {
				return
			}
			connectionID, ok := store.ConnectionFromChannel(msg.Channel)
			if !ok {
				continue
			}
			if client, ok := d.registry.Get(connectionID); ok {
				client.Send([]byte(msg.Payload))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown announces the impending close to every attached client, waits out
// the grace period, then closes all sockets with the shutdown close code.
// Room cleanup still happens per connection as each read loop winds down.
func (d *Dispatcher) Shutdown(grace time.Duration) {
	announcement := protocol.Shutdown(int(grace / time.Second))
	for _, client := range d.registry.All() {
		client.Send(announcement)
	}
	if grace > 0 {
		time.Sleep(grace)
	}
	for _, client := range d.registry.All() {
		client.close(protocol.CloseCodeShutdown, "server shutting down")
	}
}
