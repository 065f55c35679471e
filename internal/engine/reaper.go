package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/intake-engine/internal/model"
	"github.com/capitalize-ai/intake-engine/pkg/logger"
	"github.com/capitalize-ai/intake-engine/pkg/metrics"
)

const (
	msgTimeoutReminder = "Still with me? Your request is sitting here half-finished. Reply with anything to *continue*, say *reset* to start over, or *cancel* to drop it."
	msgTimeoutClosed   = "I haven't heard back, so I've closed this request out. Message me any time to start a new one."
)

// Publisher delivers outbound messages outside of a request/reply cycle.
type Publisher interface {
	Publish(ctx context.Context, msg model.OutboundMessage) error
}

// Reaper expires idle conversations in two passes. The first pass sends a
// reminder and grants one more full window; the second cancels conversations
// that stayed silent through the reminder window.
type Reaper struct {
	engine   *Engine
	pub      Publisher
	interval time.Duration
	logger   *logger.Logger
}

func NewReaper(e *Engine, pub Publisher, interval time.Duration, log *logger.Logger) *Reaper {
	return &Reaper{
		engine:   e,
		pub:      pub,
		interval: interval,
		logger:   log,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled. isLeader gates
// each sweep so only one instance does timeout work; nil means ungated.
func (r *Reaper) Run(ctx context.Context, isLeader func(context.Context) bool) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if isLeader == nil || isLeader(ctx) {
				r.RunOnce(ctx)
			}
		}
	}
}

// RunOnce performs a single notify-then-reap sweep. Both passes tolerate
// per-conversation failures: a bad row is logged and skipped, the sweep
// continues.
func (r *Reaper) RunOnce(ctx context.Context) {
	now := r.engine.now()
	r.notifyPass(ctx, now)
	r.reapPass(ctx, now)
}

func (r *Reaper) notifyPass(ctx context.Context, now time.Time) {
	pending, err := r.engine.store.NotifyPending(ctx, now)
	if err != nil {
		r.logger.Error("reaper notify query failed", zap.Error(err))
		return
	}

	for _, conv := range pending {
		log := r.logger.WithConversation(conv.ID, conv.UserID)

		conv.TimeoutNotified = true
		conv.ExpiresAt = now.Add(r.engine.window)
		conv.UpdatedAt = now

		// Persist the flag before sending. If the send fails the user
		// misses one reminder; if the save fails they'd be reminded on
		// every sweep.
		if err := r.engine.store.Save(ctx, conv); err != nil {
			log.Error("failed to mark conversation reminded", zap.Error(err))
			continue
		}

		msg := model.OutboundMessage{
			Channel:  conv.Channel,
			ThreadID: conv.ThreadID,
			Text:     msgTimeoutReminder,
		}
		if err := r.pub.Publish(ctx, msg); err != nil {
			log.Warn("failed to deliver timeout reminder", zap.Error(err))
		}
		metrics.ReaperNotified.Inc()
		log.Info("timeout reminder sent", zap.Time("new_expiry", conv.ExpiresAt))
	}
}

func (r *Reaper) reapPass(ctx context.Context, now time.Time) {
	expired, err := r.engine.store.ReapPending(ctx, now)
	if err != nil {
		r.logger.Error("reaper reap query failed", zap.Error(err))
		return
	}

	for _, conv := range expired {
		log := r.logger.WithConversation(conv.ID, conv.UserID)

		r.engine.finalize(ctx, conv, model.StatusCancelled, model.FinalStatusTimeout, now, log)
		conv.UpdatedAt = now

		if err := r.engine.store.Save(ctx, conv); err != nil {
			log.Error("failed to persist reaped conversation", zap.Error(err))
			continue
		}

		msg := model.OutboundMessage{
			Channel:  conv.Channel,
			ThreadID: conv.ThreadID,
			Text:     msgTimeoutClosed,
		}
		if err := r.pub.Publish(ctx, msg); err != nil {
			log.Warn("failed to deliver timeout notice", zap.Error(err))
		}
		metrics.ReaperReaped.Inc()
		log.Info("conversation reaped", zap.Duration("lifetime", now.Sub(conv.CreatedAt)))
	}
}
