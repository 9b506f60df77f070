// Package stats drains the hourly usage histograms out of Redis into a
// durable sink. Rooms and connections feed the histograms as a side effect
// of leaving; this package only reads and deletes them.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomPeaksPrefix      = "store:stats:room_peaks:"
	connectionTimePrefix = "store:stats:connection_time:"
)

// Snapshot is one hour's worth of histograms. RoomPeaks counts emptied rooms
// by their peak member count; ConnectionTime counts leaves by membership
// duration in minutes.
type Snapshot struct {
	Hour           time.Time
	RoomPeaks      map[string]int64
	ConnectionTime map[string]int64
}

// Sink stores exported snapshots durably.
type Sink interface {
	Store(ctx context.Context, snap Snapshot) error
}

// Exporter moves closed-out hours from Redis into the sink. Hours younger
// than the grace period are left alone: connections straddling the hour
// boundary may still increment them.
type Exporter struct {
	client *redis.Client
	sink   Sink
	log    *slog.Logger
	grace  time.Duration
	now    func() time.Time
}

func NewExporter(client *redis.Client, sink Sink, log *slog.Logger, grace time.Duration) *Exporter {
	return &Exporter{client: client, sink: sink, log: log, grace: grace, now: time.Now}
}

// Export drains every exportable hour, oldest first, deleting each hour's
// keys once the sink has accepted it. Returns the number of hours exported.
func (e *Exporter) Export(ctx context.Context) (int, error) {
	cutoff := e.now().Unix() - int64(e.grace/time.Second)

	snapshots := map[int64]*Snapshot{}
	keysByHour := map[int64][]string{}

	err := e.collect(ctx, roomPeaksPrefix, cutoff, snapshots, keysByHour, func(snap *Snapshot, hist map[string]int64) {
		snap.RoomPeaks = hist
	})
	if err != nil {
		return 0, err
	}
	err = e.collect(ctx, connectionTimePrefix, cutoff, snapshots, keysByHour, func(snap *Snapshot, hist map[string]int64) {
		snap.ConnectionTime = hist
	})
	if err != nil {
		return 0, err
	}

	hours := make([]int64, 0, len(snapshots))
	for hour := range snapshots {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i] < hours[j] })

	exported := 0
	for _, hour := range hours {
		snap := snapshots[hour]
		if snap.RoomPeaks == nil {
			snap.RoomPeaks = map[string]int64{}
		}
		if snap.ConnectionTime == nil {
			snap.ConnectionTime = map[string]int64{}
		}
		if err := e.sink.Store(ctx, *snap); err != nil {
			return exported, fmt.Errorf("store hour %d: %w", hour, err)
		}
		if err := e.client.Del(ctx, keysByHour[hour]...).Err(); err != nil {
			return exported, fmt.Errorf("delete hour %d: %w", hour, err)
		}
		e.log.Info("exported stats hour", "hour", snap.Hour, "rooms", len(snap.RoomPeaks), "leaves", len(snap.ConnectionTime))
		exported++
	}
	return exported, nil
}

func (e *Exporter) collect(ctx context.Context, prefix string, cutoff int64, snapshots map[int64]*Snapshot, keysByHour map[int64][]string, assign func(*Snapshot, map[string]int64)) error {
	var cursor uint64
	for {
		keys, next, err := e.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", prefix, err)
		}

		for _, key := range keys {
			hour, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
			if err != nil {
				e.log.Warn("skipping malformed stats key", "key", key)
				continue
			}
			if hour > cutoff {
				continue
			}

			fields, err := e.client.HGetAll(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			hist := make(map[string]int64, len(fields))
			for bucket, raw := range fields {
				count, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					e.log.Warn("skipping malformed histogram count", "key", key, "bucket", bucket)
					continue
				}
				hist[bucket] = count
			}

			snap, ok := snapshots[hour]
			if !ok {
				snap = &Snapshot{Hour: time.Unix(hour, 0).UTC()}
				snapshots[hour] = snap
			}
			assign(snap, hist)
			keysByHour[hour] = append(keysByHour[hour], key)
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
