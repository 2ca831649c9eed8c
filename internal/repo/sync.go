package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/prohands/chatsync/internal/bus"
	"go.uber.org/zap"
)

const checkpointKey = "last_sync"

// CatchUp reconciles everything missed since the local checkpoint: the later
// of the most recent locally-known message timestamp and the watermark
// recorded by the last successful sync (epoch zero when neither exists). The
// watermark covers quiet periods where a sync completed but no message row
// moved the timestamp forward. Results flow through the exact same apply
// paths as live events, so interleaving sync and live is safe: a stale sync
// record can never regress a status a live event already advanced.
//
// A REST failure is returned as-is; the next explicit trigger (reconnect, app
// resume) retries. The checkpoint only advances on success.
func (e *Engine) CatchUp(ctx context.Context) error {
	sinceMs, err := e.db.LatestMessageTimestamp()
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	since := time.UnixMilli(sinceMs)
	if v, err := e.GetCheckpoint(checkpointKey); err == nil && v != "" {
		if mark, perr := time.Parse(time.RFC3339, v); perr == nil && mark.After(since) {
			since = mark
		}
	}

	result, err := e.api.Sync(ctx, since)
	if err != nil {
		return fmt.Errorf("catch-up sync: %w", err)
	}

	applied := 0
	for i := range result.Messages {
		if err := e.ApplyMessage(&result.Messages[i]); err != nil {
			e.logger.Error("sync message apply failed",
				zap.String("msg_id", result.Messages[i].MsgID), zap.Error(err))
			continue
		}
		applied++
	}
	for i := range result.StatusUpdates {
		if err := e.ApplyStatusUpdate(&result.StatusUpdates[i]); err != nil {
			e.logger.Error("sync status apply failed",
				zap.String("msg_id", result.StatusUpdates[i].MsgID), zap.Error(err))
		}
	}

	if err := e.UpdateCheckpoint(checkpointKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("checkpoint update failed", zap.Error(err))
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindSyncCompleted,
		Timestamp: time.Now(),
		Payload: map[string]int{
			"messages":       applied,
			"status_updates": len(result.StatusUpdates),
		},
	})
	e.logger.Info("catch-up sync applied",
		zap.Int("messages", applied),
		zap.Int("status_updates", len(result.StatusUpdates)),
		zap.Time("since", since))
	return nil
}

// LoadHistory fetches one page of a conversation's history and applies it
// through the idempotent message path. Used for the initial per-conversation
// load; re-fetching a page is harmless.
func (e *Engine) LoadHistory(ctx context.Context, conversationID string, page, size int) (bool, error) {
	result, err := e.api.History(ctx, conversationID, page, size)
	if err != nil {
		return false, fmt.Errorf("load history: %w", err)
	}
	for i := range result.Messages {
		if err := e.ApplyMessage(&result.Messages[i]); err != nil {
			e.logger.Error("history apply failed",
				zap.String("msg_id", result.Messages[i].MsgID), zap.Error(err))
		}
	}
	return result.HasMore, nil
}
