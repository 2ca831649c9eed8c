package view

import (
	"time"

	"github.com/prohands/chatsync/internal/store"
)

// RowKind discriminates thread rows.
type RowKind int

const (
	RowMessage RowKind = iota
	RowDateSeparator
)

// ThreadRow is one renderable row of a message thread: either a message or a
// date separator between two calendar days.
type ThreadRow struct {
	Kind    RowKind
	Message *store.Message // set when Kind == RowMessage
	Date    time.Time      // midnight of the day, set when Kind == RowDateSeparator
}

// BuildThread turns a timestamp-ascending message slice into thread rows,
// inserting a date separator before the first message of each calendar day in
// loc. An empty input yields no rows, not a lone separator.
func BuildThread(msgs []store.Message, loc *time.Location) []ThreadRow {
	if loc == nil {
		loc = time.Local
	}
	rows := make([]ThreadRow, 0, len(msgs))
	var lastDay time.Time
	for i := range msgs {
		day := dayOf(msgs[i].Timestamp, loc)
		if !day.Equal(lastDay) {
			rows = append(rows, ThreadRow{Kind: RowDateSeparator, Date: day})
			lastDay = day
		}
		rows = append(rows, ThreadRow{Kind: RowMessage, Message: &msgs[i]})
	}
	return rows
}

func dayOf(epochMillis int64, loc *time.Location) time.Time {
	t := time.UnixMilli(epochMillis).In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FormatLastSeen renders a participant's presence for display.
func FormatLastSeen(online bool, lastSeenAt int64, now time.Time) string {
	if online {
		return "online"
	}
	if lastSeenAt == 0 {
		return "offline"
	}
	seen := time.UnixMilli(lastSeenAt)
	d := now.Sub(seen)
	switch {
	case d < time.Minute:
		return "last seen just now"
	case d < time.Hour:
		return "last seen " + seen.Format("15:04")
	case seen.Year() == now.Year() && seen.YearDay() == now.YearDay():
		return "last seen today at " + seen.Format("15:04")
	default:
		return "last seen " + seen.Format("Jan 2")
	}
}
