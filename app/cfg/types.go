package cfg

type Cfg struct {
	// Telegram delivery configuration
	BotToken string
	ChatID   string

	// Storage configuration
	DBPath      string
	SourcesFile string

	// Scheduling and throttling
	CheckIntervalMinutes int
	MaxPostsPerRun       int
	PostDelaySeconds     int
	CooldownSeconds      int

	// Rolling-window limits
	DailyMaxPosts   int
	DomainMaxPer24h int

	// Night mode (local time hours)
	NightStartHour int
	NightEndHour   int

	// Optional ledger retention, 0 keeps history forever
	RetentionHours int

	// Application metadata
	Port      string
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
