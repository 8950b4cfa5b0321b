package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Telegram delivery configuration
	BotToken string `long:"bot-token" env:"TELEGRAM_BOT_TOKEN" description:"Telegram bot token (required)" required:"true"`
	ChatID   string `long:"chat-id" env:"TELEGRAM_CHAT_ID" description:"Telegram chat or channel ID (required)" required:"true"`

	// Storage configuration
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./data/state.db" description:"Path to the SQLite publication ledger"`
	SourcesFile string `long:"sources-file" env:"SOURCES_FILE" default:"./sources.yaml" description:"YAML file with feed sources"`

	// Scheduling and throttling
	CheckIntervalMinutes int `long:"check-interval" env:"CHECK_INTERVAL_MINUTES" default:"30" description:"Minutes between polling cycles"`
	MaxPostsPerRun       int `long:"max-posts-per-run" env:"MAX_POSTS_PER_RUN" default:"3" description:"Hard cap of posts per cycle"`
	PostDelaySeconds     int `long:"post-delay" env:"MIN_DELAY_BETWEEN_POSTS" default:"2" description:"Minimum seconds between consecutive posts"`
	CooldownSeconds      int `long:"cooldown" env:"FAILURE_COOLDOWN" default:"5" description:"Seconds to wait after a failed delivery"`

	// Rolling-window limits
	DailyMaxPosts   int `long:"daily-max-posts" env:"DAILY_MAX_POSTS" default:"30" description:"Maximum posts per rolling 24h window"`
	DomainMaxPer24h int `long:"domain-max" env:"DOMAIN_MAX_PER_24H" default:"2" description:"Maximum posts per domain per rolling 24h window"`

	// Night mode (local time hours)
	NightStartHour int `long:"night-start" env:"NIGHT_START_HOUR" default:"0" description:"Hour when the posting blackout starts"`
	NightEndHour   int `long:"night-end" env:"NIGHT_END_HOUR" default:"7" description:"Hour when the posting blackout ends"`

	// Ledger retention
	RetentionHours int `long:"retention-hours" env:"RETENTION_HOURS" default:"0" description:"Prune ledger entries older than this many hours (0 disables pruning)"`

	// Application metadata
	Port      string `long:"port" env:"PORT" default:"8080" description:"HTTP status server port"`
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"feedpost/1.0 (+https://github.com/itambient/feedpost)" description:"User agent string for outbound HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for night mode and timestamps (e.g., UTC, Europe/Berlin)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		BotToken:             raw.BotToken,
		ChatID:               raw.ChatID,
		DBPath:               raw.DBPath,
		SourcesFile:          raw.SourcesFile,
		CheckIntervalMinutes: raw.CheckIntervalMinutes,
		MaxPostsPerRun:       raw.MaxPostsPerRun,
		PostDelaySeconds:     raw.PostDelaySeconds,
		CooldownSeconds:      raw.CooldownSeconds,
		DailyMaxPosts:        raw.DailyMaxPosts,
		DomainMaxPer24h:      raw.DomainMaxPer24h,
		NightStartHour:       raw.NightStartHour,
		NightEndHour:         raw.NightEndHour,
		RetentionHours:       raw.RetentionHours,
		Port:                 raw.Port,
		UserAgent:            raw.UserAgent,
		Timezone:             raw.Timezone,
		Debug:                raw.Debug,
		Version:              GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func validate(cfg *Cfg) error {
	if cfg.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("check interval must be positive, got %d", cfg.CheckIntervalMinutes)
	}
	if cfg.MaxPostsPerRun <= 0 {
		return fmt.Errorf("max posts per run must be positive, got %d", cfg.MaxPostsPerRun)
	}
	if cfg.DailyMaxPosts <= 0 {
		return fmt.Errorf("daily max posts must be positive, got %d", cfg.DailyMaxPosts)
	}
	if cfg.DomainMaxPer24h <= 0 {
		return fmt.Errorf("domain max per 24h must be positive, got %d", cfg.DomainMaxPer24h)
	}
	if cfg.NightStartHour < 0 || cfg.NightStartHour > 23 {
		return fmt.Errorf("night start hour must be in [0,23], got %d", cfg.NightStartHour)
	}
	if cfg.NightEndHour < 0 || cfg.NightEndHour > 23 {
		return fmt.Errorf("night end hour must be in [0,23], got %d", cfg.NightEndHour)
	}
	if cfg.RetentionHours < 0 {
		return fmt.Errorf("retention hours must be non-negative, got %d", cfg.RetentionHours)
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
