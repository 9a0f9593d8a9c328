// Package middleware содержит телеграм‑middleware: ACL по списку разрешённых
// пользователей и ограничение частоты запросов.
package middleware

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"wosbot/internal/adapter/telegram"
)

// Middleware wraps telegram.HandlerFunc.
type Middleware func(telegram.HandlerFunc) telegram.HandlerFunc

// Chain applies middlewares in order.
func Chain(h telegram.HandlerFunc, mws ...Middleware) telegram.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// sender возвращает ID пользователя и чата; нули, если их нет в update.
func sender(upd *models.Update) (uid, chat int64) {
	if m := upd.Message; m != nil {
		chat = m.Chat.ID
		if m.From != nil {
			uid = m.From.ID
		}
		return uid, chat
	}
	if cb := upd.CallbackQuery; cb != nil {
		uid = cb.From.ID
		if cb.Message.Message != nil {
			chat = cb.Message.Message.Chat.ID
		}
	}
	return uid, chat
}

// notify отправляет короткий ответ, если есть куда.
func notify(ctx context.Context, b *bot.Bot, chat int64, text string) {
	if chat == 0 || b == nil {
		return
	}
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chat, Text: text})
}
