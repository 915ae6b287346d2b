package botrt

import (
	"context"

	"github.com/Vico-7/Telegram-chat-bot/internal/telegram"
)

const userQueueSize = 16

// userWorker serializes all updates from one sender. Work across
// senders runs in parallel, bounded by the shared semaphore.
type userWorker struct {
	jobs chan telegram.Update
	stop context.CancelFunc
}

func startUserWorker(parent context.Context, sem chan struct{}, handle func(context.Context, telegram.Update)) *userWorker {
	ctx, cancel := context.WithCancel(parent)
	w := &userWorker{jobs: make(chan telegram.Update, userQueueSize), stop: cancel}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-w.jobs:
				if !ok {
					return
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				func() {
					defer func() { <-sem }()
					handle(ctx, update)
				}()
			}
		}
	}()
	return w
}

func (w *userWorker) enqueue(ctx, workersCtx context.Context, update telegram.Update) error {
	if ctx == nil {
		ctx = workersCtx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-workersCtx.Done():
		return workersCtx.Err()
	case w.jobs <- update:
		return nil
	}
}
