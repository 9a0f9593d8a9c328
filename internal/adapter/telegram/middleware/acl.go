package middleware

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"wosbot/internal/adapter/telegram"
)

// ACL проверяет доступ по списку разрешённых Telegram user IDs.
// Пустой список не пускает никого: бот показывает пути к файлам БД.
type ACL struct {
	allowed map[int64]struct{}
	logger  *slog.Logger
}

// NewACL создаёт ACL по списку ID
func NewACL(ids []int64, logger *slog.Logger) *ACL {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &ACL{allowed: m, logger: logger.With("component", "telegram")}
}

// IsAllowed сообщает, имеет ли пользователь доступ
func (a *ACL) IsAllowed(id int64) bool { _, ok := a.allowed[id]; return ok }

// Middleware блокирует выполнение хендлера для неразрешённых пользователей.
// Update без отправителя (например, пост в канале) тоже отклоняется.
func (a *ACL) Middleware(next telegram.HandlerFunc) telegram.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, upd *models.Update) {
		uid, chat := sender(upd)
		if uid != 0 && a.IsAllowed(uid) {
			next(ctx, b, upd)
			return
		}
		a.logger.Warn("access denied", "user_id", uid, "chat_id", chat)
		notify(ctx, b, chat, "доступ запрещен")
	}
}
