package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestParseClientMessageErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
		want ParseError
	}{
		{"not json", `this is not json`, ErrInvalidMessage},
		{"array", `[1,2,3]`, ErrInvalidMessage},
		{"string", `"raw"`, ErrInvalidMessage},
		{"null", `null`, ErrInvalidMessage},
		{"empty object", `{}`, ErrNoEventGiven},
		{"empty event", `{"event":""}`, ErrNoEventGiven},
		{"non-string event", `{"event":42}`, ErrNoEventGiven},
		{"unknown event", `{"event":"dance"}`, ErrUnknownEvent},
	}
	for _, tc := range cases {
		_, err := ParseClientMessage([]byte(tc.data))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestParseClientMessageFields(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"event":"join_room","room_id":"lobby","status":{"name":"max"}}`))
	if err != nil {
		t.Fatalf("join_room: %v", err)
	}
	if msg.Event != EventJoinRoom || msg.RoomID != "lobby" || msg.Status["name"] != "max" {
		t.Fatalf("join_room fields: got %+v", msg)
	}

	msg, err = ParseClientMessage([]byte(`{"event":"send_to_peer","peer_id":"p1","data":{"event":"offer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("send_to_peer: %v", err)
	}
	if msg.Event != EventSendToPeer || msg.PeerID != "p1" {
		t.Fatalf("send_to_peer fields: got %+v", msg)
	}
	var data map[string]string
	if err := json.Unmarshal(msg.Data, &data); err != nil || data["sdp"] != "v=0" {
		t.Fatalf("send_to_peer data: got %s (%v)", msg.Data, err)
	}

	msg, err = ParseClientMessage([]byte(`{"event":"update_status","status":{"user_agent":"chrome"}}`))
	if err != nil {
		t.Fatalf("update_status: %v", err)
	}
	if msg.Status["user_agent"] != "chrome" {
		t.Fatalf("update_status fields: got %+v", msg)
	}

	for _, event := range []string{"info", "leave_room"} {
		msg, err = ParseClientMessage([]byte(`{"event":"` + event + `"}`))
		if err != nil {
			t.Fatalf("%s: %v", event, err)
		}
		if string(msg.Event) != event {
			t.Fatalf("%s: got %+v", event, msg)
		}
	}
}

func TestParseClientMessageMistypedFieldsAreZero(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"event":"join_room","room_id":7,"status":"nope"}`))
	if err != nil {
		t.Fatalf("join_room: %v", err)
	}
	if msg.RoomID != "" || msg.Status != nil {
		t.Fatalf("mistyped fields should stay zero: got %+v", msg)
	}

	msg, err = ParseClientMessage([]byte(`{"event":"send_to_peer"}`))
	if err != nil {
		t.Fatalf("send_to_peer: %v", err)
	}
	if msg.PeerID != "" || msg.Data != nil {
		t.Fatalf("absent fields should stay zero: got %+v", msg)
	}
}

func decode(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return m
}

func TestInfoPayload(t *testing.T) {
	got := decode(t, Info())
	want := map[string]any{"event": "info", "protocol_version": "1.0.0"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("info: got %#v", got)
	}
}

func TestErrorPayload(t *testing.T) {
	got := decode(t, ErrorPayload("no room id given"))
	if got["event"] != "error" || got["message"] != "no room id given" {
		t.Fatalf("error: got %#v", got)
	}
}

func TestJoinedRoomPayload(t *testing.T) {
	got := decode(t, JoinedRoom("own", nil))
	if got["event"] != "joined_room" || got["own_id"] != "own" {
		t.Fatalf("joined_room: got %#v", got)
	}
	peers, ok := got["peers"].([]any)
	if !ok || len(peers) != 0 {
		t.Fatalf("peers must be an empty array, not null: got %#v", got["peers"])
	}

	got = decode(t, JoinedRoom("own", []Peer{{PeerID: "p1", Status: Status{"name": "max"}}}))
	peers = got["peers"].([]any)
	peer := peers[0].(map[string]any)
	if peer["peer_id"] != "p1" {
		t.Fatalf("peer: got %#v", peer)
	}
	status := peer["status"].(map[string]any)
	if status["name"] != "max" {
		t.Fatalf("peer status: got %#v", peer["status"])
	}
}

func TestNewPeerPayloadOmitsEmptyStatus(t *testing.T) {
	got := decode(t, NewPeer("p1", nil))
	if got["event"] != "new_peer" || got["peer_id"] != "p1" {
		t.Fatalf("new_peer: got %#v", got)
	}
	if _, ok := got["status"]; ok {
		t.Fatalf("empty status must be omitted: got %#v", got)
	}

	got = decode(t, NewPeer("p1", Status{"user_agent": "firefox"}))
	status, _ := got["status"].(map[string]any)
	if status["user_agent"] != "firefox" {
		t.Fatalf("new_peer status: got %#v", got["status"])
	}
}

func TestPeerLeftPayload(t *testing.T) {
	got := decode(t, PeerLeft("p1"))
	want := map[string]any{"event": "peer_left", "sender_id": "p1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("peer_left: got %#v", got)
	}
}

func TestPeerUpdatedStatusPayload(t *testing.T) {
	got := decode(t, PeerUpdatedStatus("p1", Status{"name": "max"}))
	if got["event"] != "peer_updated_status" || got["sender_id"] != "p1" {
		t.Fatalf("peer_updated_status: got %#v", got)
	}
	status, _ := got["status"].(map[string]any)
	if status["name"] != "max" {
		t.Fatalf("status: got %#v", got["status"])
	}
}

func TestShutdownPayload(t *testing.T) {
	got := decode(t, Shutdown(3))
	if got["event"] != "shutdown" || got["seconds"] != float64(3) {
		t.Fatalf("shutdown: got %#v", got)
	}
}
