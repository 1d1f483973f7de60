package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// ScanOnce claims and dispatches every reminder due at the current clock
// reading, oldest trigger time first. Losing a claim to a concurrent
// cancel or another scanner is expected and only logged at debug.
// The returned error covers the due query; per-reminder failures are
// counted in the result and logged.
func (s *Service) ScanOnce(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	now := s.now()
	res := ScanResult{At: now}

	due, err := s.store.Due(ctx, now)
	if err != nil {
		err = fmt.Errorf("query due reminders: %w", err)
		s.record(res, err)
		return res, err
	}
	res.Due = len(due)

	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		claimed, err := s.store.MarkTriggered(ctx, r.ID)
		switch {
		case err == nil:
		case errors.Is(err, reminder.ErrInvalidState), errors.Is(err, reminder.ErrNotFound):
			res.Lost++
			s.log.Debug("reminder already claimed", logx.Int64("reminder_id", r.ID), logx.Err(err))
			continue
		default:
			res.Failed++
			s.log.Error("failed to mark reminder triggered", logx.Int64("reminder_id", r.ID), logx.Err(err))
			continue
		}

		res.Triggered++
		lag := now.Sub(claimed.TriggerAt)
		s.log.Info("reminder triggered",
			logx.Int64("reminder_id", claimed.ID),
			logx.Int64("chat_id", claimed.ChatID),
			logx.String("due", claimed.TriggerAt.In(s.location()).Format(time.DateTime)),
			logx.Duration("lag", lag),
		)
		s.publish(eventbus.TypeReminderTriggered, eventbus.ReminderEvent{ID: claimed.ID, ChatID: claimed.ChatID})

		// The record stays triggered whatever happens to delivery.
		if s.router == nil {
			continue
		}
		if err := s.router.Dispatch(claimed); err != nil {
			res.DispatchFailed++
			s.log.Warn("reminder delivery failed",
				logx.Int64("reminder_id", claimed.ID),
				logx.Int64("chat_id", claimed.ChatID),
				logx.Err(err),
			)
			s.publish(eventbus.TypeReminderDeliveryFailed, eventbus.ReminderEvent{ID: claimed.ID, ChatID: claimed.ChatID, Error: err.Error()})
		}
	}

	res.Took = time.Since(start)
	s.record(res, nil)
	if res.Due > 0 {
		s.log.Debug("due scan done",
			logx.Int("due", res.Due),
			logx.Int("triggered", res.Triggered),
			logx.Int("lost", res.Lost),
			logx.Int("failed", res.Failed),
			logx.Duration("took", res.Took),
		)
	}
	if s.heartbeat != nil {
		s.heartbeat()
	}
	return res, nil
}

func (s *Service) record(res ScanResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.stats
	st.scans++
	st.triggered += uint64(res.Triggered)
	st.lost += uint64(res.Lost)
	st.failed += uint64(res.Failed)
	st.dispatchFailed += uint64(res.DispatchFailed)
	st.lastScanAt = res.At
	st.lastScanTook = res.Took
	if err != nil {
		st.lastErr = err.Error()
		st.lastErrAt = res.At
	}
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}
