package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"wosbot/internal/shared"
)

// Config holds application configuration values.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	DB  struct {
		Dir         string        `validate:"required"`
		Ext         string        `validate:"required,startswith=."`
		BusyTimeout time.Duration `validate:"gte=0"`
		ForeignKeys bool
	}
	Migrate struct {
		Dir    string `validate:"required"`
		Atomic bool
	}
	Maintenance struct {
		// Schedule is a cron spec; empty disables maintenance jobs.
		Schedule string `validate:"omitempty,cronspec"`
	}
	Telegram struct {
		// Token is optional: without it the bot consumer is not started.
		Token      string
		AllowedIDs []int64
	}
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = newValidator()

// cronParser accepts the same specs as the scheduler: 5 or 6 fields and descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cronParser.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("ENV", "prod")

	c.DB.Dir = getenv("DB_DIR", "db")
	c.DB.Ext = getenv("DB_EXT", ".sqlite")
	busy, err := time.ParseDuration(getenv("DB_BUSY_TIMEOUT", "5s"))
	if err != nil {
		return Config{}, fmt.Errorf("DB_BUSY_TIMEOUT: %w: %w", shared.ErrValidation, err)
	}
	c.DB.BusyTimeout = busy
	if c.DB.ForeignKeys, err = getbool("DB_FOREIGN_KEYS", false); err != nil {
		return Config{}, err
	}

	c.Migrate.Dir = getenv("MIGRATIONS_DIR", "migrations")
	if c.Migrate.Atomic, err = getbool("MIGRATE_ATOMIC", false); err != nil {
		return Config{}, err
	}

	c.Maintenance.Schedule = strings.TrimSpace(getenvAllowEmpty("MAINTENANCE_SCHEDULE", "@every 30m"))

	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	if c.Telegram.AllowedIDs, err = parseIDs(os.Getenv("TELEGRAM_ALLOWED_IDS")); err != nil {
		return Config{}, err
	}

	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/bot.log")

	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvAllowEmpty distinguishes an unset variable from one set to "",
// so MAINTENANCE_SCHEDULE= turns maintenance off.
func getenvAllowEmpty(k, def string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return def
}

func getbool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %w", k, shared.ErrValidation, err)
	}
	return b, nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALLOWED_IDS: %w: %q", shared.ErrValidation, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
