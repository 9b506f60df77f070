package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "ps:connection:"

// ConnectionChannel returns the personal pub/sub channel for a connection
// identity. Anything published here reaches the process currently holding
// the connection's socket.
func ConnectionChannel(connectionID string) string {
	return channelPrefix + connectionID
}

// ConnectionFromChannel extracts the connection identity from a personal
// channel name.
func ConnectionFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func roomMembersKey(roomID string) string { return "store:room:members:" + roomID }
func roomPeakKey(roomID string) string    { return "store:room:peak_members:" + roomID }

func connJoinedKey(connectionID string) string { return "store:connection:joined:" + connectionID }
func connRoomKey(connectionID string) string   { return "store:connection:room:" + connectionID }
func connStatusKey(connectionID string) string { return "store:connection:status:" + connectionID }

func statsRoomPeaksKey(hour int64) string {
	return fmt.Sprintf("store:stats:room_peaks:%d", hour)
}

func statsConnectionTimeKey(hour int64) string {
	return fmt.Sprintf("store:stats:connection_time:%d", hour)
}

// scriptJoinRoom notifies every existing member, inserts the joiner into the
// member set, raises the peak counter if exceeded, and records the join
// timestamp and current-room pointer. Returns the pre-insertion member list.
//
// KEYS: members, peak, joined timestamp, room pointer.
// ARGV: connection id, new_peer payload, unix timestamp, room id.
const scriptJoinRoom = `
local members = redis.call('smembers', KEYS[1])
local count = 0
for _, peer_id in pairs(members) do
  redis.call('publish', 'ps:connection:' .. peer_id, ARGV[2])
  count = count + 1
end
redis.call('sadd', KEYS[1], ARGV[1])
local peak = tonumber(redis.call('get', KEYS[2]))
if count == 0 or (peak and peak <= count) then
  redis.call('set', KEYS[2], count + 1)
end
redis.call('set', KEYS[3], ARGV[3])
redis.call('set', KEYS[4], ARGV[4])
return members
`

// scriptLeaveRoom folds the membership duration into the connection-time
// histogram (minute buckets), removes the member and all of its room-scoped
// keys, and either consumes the peak counter into the room-peak histogram
// (last member out) or notifies the remaining members.
//
// KEYS: members, peak, joined timestamp, room pointer, status,
// room-peak histogram, connection-time histogram.
// ARGV: connection id, peer_left payload, unix timestamp.
const scriptLeaveRoom = `
local joined = tonumber(redis.call('get', KEYS[3]))
if joined then
  redis.call('hincrby', KEYS[7], math.floor((tonumber(ARGV[3]) - joined) / 60), 1)
end
redis.call('srem', KEYS[1], ARGV[1])
redis.call('del', KEYS[3])
redis.call('del', KEYS[4])
redis.call('del', KEYS[5])
if redis.call('scard', KEYS[1]) == 0 then
  local peak = redis.call('get', KEYS[2])
  if peak then
    redis.call('hincrby', KEYS[6], peak, 1)
  end
  redis.call('del', KEYS[1])
  redis.call('del', KEYS[2])
else
  for _, peer_id in pairs(redis.call('smembers', KEYS[1])) do
    redis.call('publish', 'ps:connection:' .. peer_id, ARGV[2])
  end
end
return 1
`

// RoomStore exposes the room-membership transitions and lookups on top of a
// shared Redis instance.
type RoomStore struct {
	client *redis.Client
	join   *redis.Script
	leave  *redis.Script
}

func New(client *redis.Client) *RoomStore {
	return &RoomStore{
		client: client,
		join:   redis.NewScript(scriptJoinRoom),
		leave:  redis.NewScript(scriptLeaveRoom),
	}
}

// CurrentRoom returns the connection's current-room pointer, or "" when the
// connection is not in any room.
func (s *RoomStore) CurrentRoom(ctx context.Context, connectionID string) (string, error) {
	room, err := s.client.Get(ctx, connRoomKey(connectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("current room for %s: %w", connectionID, err)
	}
	return room, nil
}

// Join executes the atomic join transition and returns the member list as it
// was before the joiner was inserted. newPeer is published to each existing
// member's personal channel inside the same transition.
func (s *RoomStore) Join(ctx context.Context, connectionID, roomID string, newPeer []byte, now time.Time) ([]string, error) {
	keys := []string{
		roomMembersKey(roomID),
		roomPeakKey(roomID),
		connJoinedKey(connectionID),
		connRoomKey(connectionID),
	}
	members, err := s.join.Run(ctx, s.client, keys, connectionID, string(newPeer), now.Unix(), roomID).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("join transition: %w", err)
	}
	return members, nil
}

// Leave executes the atomic leave transition. peerLeft is published to every
// remaining member; when the last member leaves, the room's keys are deleted
// and its peak counter is folded into the room-peak histogram instead.
func (s *RoomStore) Leave(ctx context.Context, connectionID, roomID string, peerLeft []byte, now time.Time) error {
	hour := now.Unix() - now.Unix()%3600
	keys := []string{
		roomMembersKey(roomID),
		roomPeakKey(roomID),
		connJoinedKey(connectionID),
		connRoomKey(connectionID),
		connStatusKey(connectionID),
		statsRoomPeaksKey(hour),
		statsConnectionTimeKey(hour),
	}
	if err := s.leave.Run(ctx, s.client, keys, connectionID, string(peerLeft), now.Unix()).Err(); err != nil {
		return fmt.Errorf("leave transition: %w", err)
	}
	return nil
}

// SetStatus persists status fields into the connection's status hash.
func (s *RoomStore) SetStatus(ctx context.Context, connectionID string, fields map[string]string) error {
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	if err := s.client.HSet(ctx, connStatusKey(connectionID), values...).Err(); err != nil {
		return fmt.Errorf("set status for %s: %w", connectionID, err)
	}
	return nil
}

// Status returns the connection's persisted status fields. A connection with
// no status record yields an empty, non-nil map.
func (s *RoomStore) Status(ctx context.Context, connectionID string) (map[string]string, error) {
	status, err := s.client.HGetAll(ctx, connStatusKey(connectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("status for %s: %w", connectionID, err)
	}
	if status == nil {
		status = map[string]string{}
	}
	return status, nil
}

// Members returns the current member set of a room.
func (s *RoomStore) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", roomID, err)
	}
	return members, nil
}

// IsMember reports whether the connection is currently in the room's member
// set. Membership is re-checked at call time, never cached.
func (s *RoomStore) IsMember(ctx context.Context, roomID, connectionID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, roomMembersKey(roomID), connectionID).Result()
	if err != nil {
		return false, fmt.Errorf("membership of %s in %s: %w", connectionID, roomID, err)
	}
	return ok, nil
}

// Publish sends a payload to the connection's personal channel. Delivery is
// fire-and-forget: at-most-once, no retry.
func (s *RoomStore) Publish(ctx context.Context, connectionID string, payload []byte) error {
	if err := s.client.Publish(ctx, ConnectionChannel(connectionID), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", connectionID, err)
	}
	return nil
}
