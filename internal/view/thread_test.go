package view

import (
	"testing"
	"time"

	"github.com/prohands/chatsync/internal/store"
)

func msgAt(id string, ts time.Time) store.Message {
	return store.Message{
		ConversationID: "a:b",
		MsgID:          id,
		SenderID:       "a",
		Content:        "x",
		Timestamp:      ts.UnixMilli(),
	}
}

func TestBuildThreadInsertsDateSeparators(t *testing.T) {
	loc := time.UTC
	day1 := time.Date(2025, 3, 1, 10, 0, 0, 0, loc)
	day2 := time.Date(2025, 3, 2, 9, 0, 0, 0, loc)

	rows := BuildThread([]store.Message{
		msgAt("m1", day1),
		msgAt("m2", day1.Add(time.Hour)),
		msgAt("m3", day2),
	}, loc)

	wantKinds := []RowKind{RowDateSeparator, RowMessage, RowMessage, RowDateSeparator, RowMessage}
	if len(rows) != len(wantKinds) {
		t.Fatalf("got %d rows, want %d", len(rows), len(wantKinds))
	}
	for i, k := range wantKinds {
		if rows[i].Kind != k {
			t.Errorf("row %d kind = %d, want %d", i, rows[i].Kind, k)
		}
	}

	if !rows[0].Date.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("first separator = %v, want March 1 midnight", rows[0].Date)
	}
	if !rows[3].Date.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, loc)) {
		t.Errorf("second separator = %v, want March 2 midnight", rows[3].Date)
	}
	if rows[1].Message.MsgID != "m1" || rows[4].Message.MsgID != "m3" {
		t.Errorf("message rows out of order: %v, %v", rows[1].Message.MsgID, rows[4].Message.MsgID)
	}
}

func TestBuildThreadEmpty(t *testing.T) {
	rows := BuildThread(nil, time.UTC)
	if len(rows) != 0 {
		t.Errorf("got %d rows for empty input, want 0", len(rows))
	}
}

func TestBuildThreadSingleDay(t *testing.T) {
	loc := time.UTC
	day := time.Date(2025, 3, 1, 8, 0, 0, 0, loc)
	rows := BuildThread([]store.Message{
		msgAt("m1", day),
		msgAt("m2", day.Add(time.Minute)),
	}, loc)

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (one separator)", len(rows))
	}
	if rows[0].Kind != RowDateSeparator {
		t.Error("first row is not a separator")
	}
}

// Separator placement follows the display timezone, not UTC: two timestamps
// on either side of local midnight get a separator even when they share a
// UTC day.
func TestBuildThreadUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	beforeMidnight := time.Date(2025, 3, 1, 23, 30, 0, 0, loc)
	afterMidnight := time.Date(2025, 3, 2, 0, 30, 0, 0, loc)

	rows := BuildThread([]store.Message{
		msgAt("m1", beforeMidnight),
		msgAt("m2", afterMidnight),
	}, loc)

	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4 (two separators)", len(rows))
	}
}

func TestFormatLastSeen(t *testing.T) {
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.Local)

	if got := FormatLastSeen(true, 0, now); got != "online" {
		t.Errorf("online = %q", got)
	}
	if got := FormatLastSeen(false, 0, now); got != "offline" {
		t.Errorf("never seen = %q", got)
	}
	if got := FormatLastSeen(false, now.Add(-30*time.Second).UnixMilli(), now); got != "last seen just now" {
		t.Errorf("recent = %q", got)
	}
	if got := FormatLastSeen(false, now.AddDate(0, -1, 0).UnixMilli(), now); got != "last seen Feb 2" {
		t.Errorf("old = %q", got)
	}
}
