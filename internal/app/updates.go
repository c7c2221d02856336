package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/WangyangYe0512/Control-Simple/internal/alerts"
	"github.com/WangyangYe0512/Control-Simple/internal/arm"
	"github.com/WangyangYe0512/Control-Simple/internal/audit"
	"github.com/WangyangYe0512/Control-Simple/internal/dispatch"
	"github.com/WangyangYe0512/Control-Simple/internal/reconcile"
	"github.com/WangyangYe0512/Control-Simple/internal/router"

	"go.uber.org/zap"
)

const offsetKey = "telegram:last_update_id"

// updateLoop long-polls getUpdates and feeds parsed commands to the
// router. The offset is persisted so a restart never replays an
// already-handled command. Each update is handled in its own goroutine:
// a command must never wait behind a prior plan's reconciliation, so a
// second plan on a leased venue is rejected immediately and /flat can
// preempt an in-flight plan instead of queuing behind it.
func (a *App) updateLoop(ctx context.Context) {
	offset := a.loadOffset(ctx)
	pollInterval := a.cfg.Telegram.PollInterval
	warned := false
	var handlers sync.WaitGroup
	defer handlers.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.tg.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !warned {
				warned = true
				a.log.Warn("telegram poll failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if warned {
			a.log.Info("telegram poll recovered")
			warned = false
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
				a.saveOffset(ctx, offset)
			}
			handlers.Add(1)
			go func(update alerts.Update) {
				defer handlers.Done()
				a.handleUpdate(ctx, update)
			}(update)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, update alerts.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != a.cfg.Telegram.ChatID {
		return
	}
	if a.cfg.Telegram.TopicID != 0 && msg.ThreadID != a.cfg.Telegram.TopicID {
		return
	}

	cmd, err := router.Parse(msg.Text)
	if err != nil {
		if errors.Is(err, router.ErrUnknownCommand) {
			return
		}
		// Malformed arguments: only admins get the usage hint.
		if _, ok := a.admins[msg.From.ID]; ok {
			a.reply(ctx, err.Error())
		}
		return
	}
	cmd.IssuerID = msg.From.ID
	cmd.Username = msg.From.Username
	cmd.At = time.Unix(msg.Date, 0)

	reply, err := a.router.Handle(ctx, cmd)
	a.auditCommand(update, cmd, reply, err)
	if err != nil {
		if errors.Is(err, router.ErrUnauthorized) {
			// No reply: unauthorized senders learn nothing.
			return
		}
		a.reply(ctx, rejectionText(err))
		return
	}
	if reply != "" {
		a.reply(ctx, reply)
	}
}

func (a *App) reply(ctx context.Context, text string) {
	if err := a.tg.Send(ctx, text); err != nil {
		a.log.Warn("telegram reply failed", zap.Error(err))
	}
}

// rejectionText maps handler errors onto operator-facing messages.
func rejectionText(err error) string {
	switch {
	case errors.Is(err, arm.ErrNotArmed):
		return "not armed: send /arm first"
	case errors.Is(err, dispatch.ErrInstanceBusy):
		return "rejected: a plan is still running on that venue"
	case errors.Is(err, reconcile.ErrTimeout):
		return fmt.Sprintf("reconciliation timed out: %v", err)
	default:
		return fmt.Sprintf("command failed: %v", err)
	}
}

func (a *App) auditCommand(update alerts.Update, cmd router.Command, reply string, err error) {
	if a.audit == nil {
		return
	}
	outcome := "ok"
	detail := reply
	if err != nil {
		outcome = "rejected"
		detail = err.Error()
	}
	a.audit.Enqueue(audit.Event{
		Time:     time.Now().UTC(),
		UpdateID: update.UpdateID,
		UserID:   cmd.IssuerID,
		Username: cmd.Username,
		Command:  cmd.Kind.String(),
		Raw:      cmd.Raw,
		Outcome:  outcome,
		Detail:   detail,
	})
}

func (a *App) loadOffset(ctx context.Context) int64 {
	raw, ok, err := a.store.Get(ctx, offsetKey)
	if err != nil || !ok {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func (a *App) saveOffset(ctx context.Context, offset int64) {
	if err := a.store.Set(ctx, offsetKey, strconv.FormatInt(offset, 10)); err != nil {
		a.log.Warn("failed to persist update offset", zap.Error(err))
	}
}
