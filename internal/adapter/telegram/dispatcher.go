package telegram

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Update aliases models.Update for brevity.
type Update = models.Update

type ctxUpdate struct {
	ctx context.Context
	upd *models.Update
}

// HandlerFunc processes a single update.
type HandlerFunc func(ctx context.Context, b *bot.Bot, upd *models.Update)

// Dispatcher routes updates to worker goroutines keeping chat order.
type Dispatcher struct {
	bot     *bot.Bot
	handler HandlerFunc
	logger  *slog.Logger
	workers int
	chans   []chan ctxUpdate

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates dispatcher with given worker count.
func NewDispatcher(b *bot.Bot, workers int, h HandlerFunc, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		bot:     b,
		handler: h,
		logger:  logger.With("component", "telegram"),
		workers: workers,
		chans:   make([]chan ctxUpdate, workers),
	}
	for i := 0; i < workers; i++ {
		d.chans[i] = make(chan ctxUpdate, 100)
		d.wg.Add(1)
		go d.worker(d.chans[i])
	}
	return d
}

// Dispatch sends update to appropriate worker based on chat ID.
// Updates arriving after Stop are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, upd *models.Update) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}
	d.chans[d.slot(extractChatID(upd))] <- ctxUpdate{ctx: ctx, upd: upd}
}

// Stop closes worker queues and waits until queued updates are handled.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, ch := range d.chans {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) slot(chatID int64) int {
	if chatID == 0 {
		return 0
	}
	return int(abs(chatID) % int64(d.workers))
}

func (d *Dispatcher) worker(in <-chan ctxUpdate) {
	defer d.wg.Done()
	for item := range in {
		d.handle(item)
	}
}

func (d *Dispatcher) handle(item ctxUpdate) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "update_id", item.upd.ID, "panic", r)
		}
	}()
	d.handler(item.ctx, d.bot, item.upd)
}

func extractChatID(u *models.Update) int64 {
	if u.Message != nil {
		return u.Message.Chat.ID
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message.Message != nil {
		return u.CallbackQuery.Message.Message.Chat.ID
	}
	return 0
}

func abs(i int64) int64 {
	if i < 0 {
		return -i
	}
	return i
}
