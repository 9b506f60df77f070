package stats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recordingSink struct {
	snaps []Snapshot
	err   error
}

func (s *recordingSink) Store(ctx context.Context, snap Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func newTestExporter(t *testing.T, sink Sink, grace time.Duration, now int64) (*Exporter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := NewExporter(client, sink, slog.New(slog.NewTextHandler(io.Discard, nil)), grace)
	e.now = func() time.Time { return time.Unix(now, 0) }
	return e, mr
}

func seedHour(t *testing.T, mr *miniredis.Miniredis, hour int64, peaks, durations map[string]string) {
	t.Helper()
	for bucket, count := range peaks {
		mr.HSet(fmt.Sprintf("store:stats:room_peaks:%d", hour), bucket, count)
	}
	for bucket, count := range durations {
		mr.HSet(fmt.Sprintf("store:stats:connection_time:%d", hour), bucket, count)
	}
}

func TestExportDrainsOldHours(t *testing.T) {
	now := int64(1700000000)
	oldHour := now - now%3600 - 2*3600
	recentHour := now - now%3600

	sink := &recordingSink{}
	e, mr := newTestExporter(t, sink, time.Hour, now)
	seedHour(t, mr, oldHour, map[string]string{"2": "3", "5": "1"}, map[string]string{"0": "4", "10": "2"})
	seedHour(t, mr, recentHour, map[string]string{"1": "1"}, map[string]string{"0": "1"})

	exported, err := e.Export(context.Background())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if exported != 1 || len(sink.snaps) != 1 {
		t.Fatalf("expected one exported hour, got %d (%d stored)", exported, len(sink.snaps))
	}

	snap := sink.snaps[0]
	if !snap.Hour.Equal(time.Unix(oldHour, 0).UTC()) {
		t.Fatalf("hour: got %v", snap.Hour)
	}
	if snap.RoomPeaks["2"] != 3 || snap.RoomPeaks["5"] != 1 {
		t.Fatalf("room peaks: got %#v", snap.RoomPeaks)
	}
	if snap.ConnectionTime["0"] != 4 || snap.ConnectionTime["10"] != 2 {
		t.Fatalf("connection time: got %#v", snap.ConnectionTime)
	}

	if mr.Exists(fmt.Sprintf("store:stats:room_peaks:%d", oldHour)) {
		t.Fatalf("exported hour should be deleted")
	}
	if !mr.Exists(fmt.Sprintf("store:stats:room_peaks:%d", recentHour)) {
		t.Fatalf("recent hour must survive the export")
	}
}

func TestExportOldestFirst(t *testing.T) {
	now := int64(1700000000)
	base := now - now%3600

	sink := &recordingSink{}
	e, mr := newTestExporter(t, sink, time.Hour, now)
	for _, offset := range []int64{5, 2, 8} {
		hour := base - offset*3600
		seedHour(t, mr, hour, map[string]string{"1": "1"}, map[string]string{"0": "1"})
	}

	if _, err := e.Export(context.Background()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(sink.snaps) != 3 {
		t.Fatalf("expected 3 hours, got %d", len(sink.snaps))
	}
	for i := 1; i < len(sink.snaps); i++ {
		if !sink.snaps[i-1].Hour.Before(sink.snaps[i].Hour) {
			t.Fatalf("hours out of order: %v then %v", sink.snaps[i-1].Hour, sink.snaps[i].Hour)
		}
	}
}

func TestExportWithOnlyOneHistogram(t *testing.T) {
	now := int64(1700000000)
	hour := now - now%3600 - 2*3600

	sink := &recordingSink{}
	e, mr := newTestExporter(t, sink, time.Hour, now)
	// A room that stayed occupied all hour produces connection-time entries
	// but no room peak.
	seedHour(t, mr, hour, nil, map[string]string{"30": "2"})

	if _, err := e.Export(context.Background()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(sink.snaps) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(sink.snaps))
	}
	snap := sink.snaps[0]
	if snap.RoomPeaks == nil || len(snap.RoomPeaks) != 0 {
		t.Fatalf("missing histogram should be an empty map, got %#v", snap.RoomPeaks)
	}
	if snap.ConnectionTime["30"] != 2 {
		t.Fatalf("connection time: got %#v", snap.ConnectionTime)
	}
}

func TestExportKeepsDataOnSinkFailure(t *testing.T) {
	now := int64(1700000000)
	hour := now - now%3600 - 2*3600

	sink := &recordingSink{err: errors.New("sink down")}
	e, mr := newTestExporter(t, sink, time.Hour, now)
	seedHour(t, mr, hour, map[string]string{"1": "1"}, map[string]string{"0": "1"})

	exported, err := e.Export(context.Background())
	if err == nil || exported != 0 {
		t.Fatalf("expected failure, got %d exported and err %v", exported, err)
	}
	if !mr.Exists(fmt.Sprintf("store:stats:room_peaks:%d", hour)) {
		t.Fatalf("histograms must survive a failed export")
	}
}

func TestExportNothingToDo(t *testing.T) {
	sink := &recordingSink{}
	e, _ := newTestExporter(t, sink, time.Hour, 1700000000)

	exported, err := e.Export(context.Background())
	if err != nil || exported != 0 {
		t.Fatalf("empty export: got %d, %v", exported, err)
	}
}
