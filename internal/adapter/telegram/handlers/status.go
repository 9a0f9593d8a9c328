package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"wosbot/internal/platform/sqlite"
)

// Status answers /status with one block per open database.
func (c *Commands) Status(ctx context.Context) string {
	files, err := c.status.Registered(ctx)
	if err != nil {
		c.logger.Error("status", "error", err)
		return "ошибка получения статуса"
	}
	return RenderStatus(files)
}

// RenderStatus formats database summaries as plain text.
func RenderStatus(files []sqlite.FileStatus) string {
	if len(files) == 0 {
		return "открытых баз нет"
	}
	var sb strings.Builder
	for i, f := range files {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s\n", filepath.Base(f.Path))
		fmt.Fprintf(&sb, "  открыта: %s, захватов: %d\n", f.OpenedAt.Format("2006-01-02 15:04:05"), f.Acquisitions)
		fmt.Fprintf(&sb, "  применено: %d", len(f.Migrations.Applied))
		if n := len(f.Migrations.Applied); n > 0 {
			fmt.Fprintf(&sb, " (последняя %s)", f.Migrations.Applied[n-1].ID)
		}
		sb.WriteString("\n")
		if len(f.Migrations.Pending) > 0 {
			fmt.Fprintf(&sb, "  ожидают: %s\n", strings.Join(f.Migrations.Pending, ", "))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
