// Package telegram runs the optional ops bot: long polling, per-chat ordered
// dispatch and the handler chain built by the app.
package telegram

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// ErrNoToken is returned by New when the bot token is empty.
var ErrNoToken = errors.New("telegram: bot token is empty")

// Options configures the bot runner.
type Options struct {
	Token   string
	Workers int
	Logger  *slog.Logger
	// Extra bot options, e.g. bot.WithServerURL in tests.
	BotOptions []bot.Option
}

// Bot couples the telegram client with the dispatcher.
type Bot struct {
	client *bot.Bot
	disp   *Dispatcher
	logger *slog.Logger
}

// New creates the bot client. Updates are routed through a Dispatcher to h.
func New(o Options, h HandlerFunc) (*Bot, error) {
	if o.Token == "" {
		return nil, ErrNoToken
	}
	if o.Workers == 0 {
		o.Workers = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	var disp *Dispatcher
	opts := append([]bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, upd *models.Update) {
			disp.Dispatch(ctx, upd)
		}),
		bot.WithAllowedUpdates([]string{"message", "callback_query"}),
	}, o.BotOptions...)

	b, err := bot.New(o.Token, opts...)
	if err != nil {
		return nil, err
	}
	disp = NewDispatcher(b, o.Workers, h, o.Logger)
	return &Bot{client: b, disp: disp, logger: o.Logger.With("component", "telegram")}, nil
}

// Client returns the underlying telegram client.
func (b *Bot) Client() *bot.Bot { return b.client }

// Dispatch hands an update to the dispatcher, bypassing polling.
func (b *Bot) Dispatch(ctx context.Context, upd *models.Update) { b.disp.Dispatch(ctx, upd) }

// Run polls for updates until ctx is cancelled, then drains the dispatcher.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("telegram bot polling")
	b.client.Start(ctx)
	b.disp.Stop()
	b.logger.Info("telegram bot stopped")
}
