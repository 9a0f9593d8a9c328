package handlers

import (
	"fmt"
	"time"
)

// Start answers /start.
func (c *Commands) Start() string {
	return fmt.Sprintf("запущено, работает %s\n/status - состояние баз и миграций\n/ping - проверка связи",
		time.Since(c.started).Round(time.Second))
}
