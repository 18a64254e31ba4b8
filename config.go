package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
)

// Schedule связывает интервал опроса и точность сравнения времени приёма.
// Сравнение идёт с точностью до минуты, поэтому интервал не может быть длиннее минуты,
// а планировщик не обрабатывает одну минуту дважды.
type Schedule struct {
	Interval     time.Duration
	EventTimeout time.Duration
}

const (
	defaultSweepInterval = time.Minute
	defaultEventTimeout  = 30 * time.Second
)

func (s Schedule) Validate() error {
	if s.Interval <= 0 || s.Interval > time.Minute {
		return goerr.Wrap(ErrInvalidConfig, "sweep interval must be within (0, 1m]", goerr.V("interval", s.Interval.String()))
	}
	if s.EventTimeout < 0 {
		return goerr.Wrap(ErrInvalidConfig, "event timeout must not be negative", goerr.V("event_timeout", s.EventTimeout.String()))
	}
	return nil
}

// AppConfig читается из необязательного TOML-файла
type AppConfig struct {
	Bot      BotConfig      `toml:"bot"`
	Schedule ScheduleConfig `toml:"schedule"`
}

type BotConfig struct {
	Units []string `toml:"units"`
}

type ScheduleConfig struct {
	Interval     string `toml:"interval"`
	EventTimeout string `toml:"event_timeout"`
}

func (a *AppConfig) Validate() error {
	seen := make(map[string]bool)
	for _, u := range a.Bot.Units {
		u = strings.TrimSpace(u)
		if u == "" {
			return goerr.Wrap(ErrInvalidConfig, "unit must not be empty")
		}
		if seen[u] {
			return goerr.Wrap(ErrInvalidConfig, "duplicate unit", goerr.V("unit", u))
		}
		seen[u] = true
	}

	if a.Schedule.Interval != "" {
		if _, err := time.ParseDuration(a.Schedule.Interval); err != nil {
			return goerr.Wrap(ErrInvalidConfig, "invalid schedule interval", goerr.V("interval", a.Schedule.Interval))
		}
	}
	if a.Schedule.EventTimeout != "" {
		if _, err := time.ParseDuration(a.Schedule.EventTimeout); err != nil {
			return goerr.Wrap(ErrInvalidConfig, "invalid event timeout", goerr.V("event_timeout", a.Schedule.EventTimeout))
		}
	}
	return nil
}

// LoadAppConfig читает TOML-файл; пустой путь даёт настройки по умолчанию
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - путь задаёт оператор
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse TOML config", goerr.V("path", path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V("path", path))
	}
	return cfg, nil
}

func (a *AppConfig) Units() []string {
	if len(a.Bot.Units) == 0 {
		return DefaultDoseUnits
	}
	units := make([]string, len(a.Bot.Units))
	for i, u := range a.Bot.Units {
		units[i] = strings.TrimSpace(u)
	}
	return units
}

// Параметры планировщика, пустые значения берутся из TOML-файла
type scheduleFlags struct {
	interval     time.Duration
	eventTimeout time.Duration
	configPath   string
}

func (f *scheduleFlags) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Path to TOML config file",
			Sources:     cli.EnvVars("CONFIG_PATH"),
			Destination: &f.configPath,
		},
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Usage:       "Reminder sweep interval (at most 1m)",
			Category:    "Scheduler",
			Sources:     cli.EnvVars("SWEEP_INTERVAL"),
			Destination: &f.interval,
		},
		&cli.DurationFlag{
			Name:        "event-timeout",
			Usage:       "Timeout for processing a single reminder (0 disables)",
			Category:    "Scheduler",
			Value:       defaultEventTimeout,
			Sources:     cli.EnvVars("EVENT_TIMEOUT"),
			Destination: &f.eventTimeout,
		},
	}
}

// Configure собирает Schedule и AppConfig
func (f *scheduleFlags) Configure(c *cli.Command) (Schedule, *AppConfig, error) {
	app, err := LoadAppConfig(f.configPath)
	if err != nil {
		return Schedule{}, nil, err
	}

	schedule, err := app.BuildSchedule(f.interval, f.eventTimeout, c.IsSet("event-timeout"))
	if err != nil {
		return Schedule{}, nil, err
	}
	return schedule, app, nil
}

// BuildSchedule применяет значения из файла к тому, что не задано флагами.
// interval == 0 значит «не задан»; таймаут из файла используется, только если флаг не указан явно.
func (a *AppConfig) BuildSchedule(interval, eventTimeout time.Duration, eventTimeoutSet bool) (Schedule, error) {
	schedule := Schedule{Interval: interval, EventTimeout: eventTimeout}
	if schedule.Interval == 0 && a.Schedule.Interval != "" {
		schedule.Interval, _ = time.ParseDuration(a.Schedule.Interval)
	}
	if !eventTimeoutSet && a.Schedule.EventTimeout != "" {
		schedule.EventTimeout, _ = time.ParseDuration(a.Schedule.EventTimeout)
	}
	if schedule.Interval == 0 {
		schedule.Interval = defaultSweepInterval
	}

	if err := schedule.Validate(); err != nil {
		return Schedule{}, err
	}
	return schedule, nil
}

// storageFlags выбирает и открывает хранилище
type storageFlags struct {
	backend     string
	databaseURL string
	sqlitePath  string
}

func (f *storageFlags) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "Storage backend (postgres, sqlite or memory)",
			Category:    "Storage",
			Value:       "postgres",
			Sources:     cli.EnvVars("STORAGE_BACKEND"),
			Destination: &f.backend,
		},
		&cli.StringFlag{
			Name:        "database-url",
			Usage:       "PostgreSQL connection string",
			Category:    "Storage",
			Sources:     cli.EnvVars("DATABASE_URL"),
			Destination: &f.databaseURL,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file",
			Category:    "Storage",
			Value:       "medicine_bot.db",
			Sources:     cli.EnvVars("SQLITE_PATH"),
			Destination: &f.sqlitePath,
		},
	}
}

func (f *storageFlags) Configure(ctx context.Context) (Store, error) {
	switch f.backend {
	case "postgres":
		if f.databaseURL == "" {
			return nil, goerr.Wrap(ErrInvalidConfig, "DATABASE_URL is not set")
		}
		return NewPostgresStorage(ctx, f.databaseURL)
	case "sqlite":
		return NewSQLiteStorage(ctx, f.sqlitePath)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, goerr.Wrap(ErrInvalidConfig, "unknown storage backend", goerr.V("backend", f.backend))
	}
}

// Параметры Telegram-бота и веб-сервера
type botFlags struct {
	token           string
	adminID         int64
	webPort         string
	resolverTimeout time.Duration
}

func (f *botFlags) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "telegram-bot-token",
			Usage:       "Telegram bot token",
			Category:    "Telegram",
			Sources:     cli.EnvVars("TELEGRAM_BOT_TOKEN"),
			Destination: &f.token,
		},
		&cli.Int64Flag{
			Name:        "admin-id",
			Usage:       "Chat ID allowed to use /stats (0 allows everyone)",
			Category:    "Telegram",
			Sources:     cli.EnvVars("ADMIN_ID"),
			Destination: &f.adminID,
		},
		&cli.StringFlag{
			Name:        "web-port",
			Usage:       "Port of the web app API (empty disables it)",
			Value:       "8080",
			Sources:     cli.EnvVars("WEB_PORT"),
			Destination: &f.webPort,
		},
		&cli.DurationFlag{
			Name:        "resolver-timeout",
			Usage:       "Timeout for location to timezone lookup",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("RESOLVER_TIMEOUT"),
			Destination: &f.resolverTimeout,
		},
	}
}

func (f *botFlags) Validate() error {
	if f.token == "" {
		return goerr.Wrap(ErrInvalidConfig, "TELEGRAM_BOT_TOKEN is not set")
	}
	return nil
}
