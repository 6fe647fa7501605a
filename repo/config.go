package repo

import (
	"time"
)

type Config struct {
	RepoRoot  string    `mapstructure:"-" toml:"-"`
	Council   Council   `mapstructure:"council" toml:"council"`
	Vote      Vote      `mapstructure:"vote" toml:"vote"`
	XP        XP        `mapstructure:"xp" toml:"xp"`
	Stickers  Stickers  `mapstructure:"stickers" toml:"stickers"`
	Storage   Storage   `mapstructure:"storage" toml:"storage"`
	Scheduler Scheduler `mapstructure:"scheduler" toml:"scheduler"`
	Transport Transport `mapstructure:"transport" toml:"transport"`
	Metrics   Metrics   `mapstructure:"metrics" toml:"metrics"`
	Log       Log       `mapstructure:"log" toml:"log"`
}

type Council struct {
	// group used when a command arrives through a direct message
	GroupID string `mapstructure:"group_id" toml:"group_id"`
	// the only identity allowed to run close / reopen
	AdminID       string `mapstructure:"admin_id" toml:"admin_id"`
	CommandPrefix string `mapstructure:"command_prefix" toml:"command_prefix"`
}

type Vote struct {
	DefaultWindow time.Duration `mapstructure:"default_window" toml:"default_window"`
	DraftTTL      time.Duration `mapstructure:"draft_ttl" toml:"draft_ttl"`
	SelectionTTL  time.Duration `mapstructure:"selection_ttl" toml:"selection_ttl"`
	// quorum applied to proposals stored without an approval rule, 0 skips the quorum check
	FallbackQuorum float64  `mapstructure:"fallback_quorum" toml:"fallback_quorum"`
	MaxCandidates  int      `mapstructure:"max_candidates" toml:"max_candidates"`
	ListLimit      int      `mapstructure:"list_limit" toml:"list_limit"`
	YesTokens      []string `mapstructure:"yes_tokens" toml:"yes_tokens"`
	NoTokens       []string `mapstructure:"no_tokens" toml:"no_tokens"`
}

type XP struct {
	Base    int     `mapstructure:"base" toml:"base"`
	K       float64 `mapstructure:"k" toml:"k"`
	MinMult float64 `mapstructure:"min_mult" toml:"min_mult"`
	MaxMult float64 `mapstructure:"max_mult" toml:"max_mult"`
}

// Stickers lists sticker file hashes (hex) recognised as votes or as the lock signal.
type Stickers struct {
	Yes  []string `mapstructure:"yes" toml:"yes"`
	No   []string `mapstructure:"no" toml:"no"`
	Lock []string `mapstructure:"lock" toml:"lock"`
}

type Storage struct {
	// leveldb or json
	Type string `mapstructure:"type" toml:"type"`
	// relative paths are resolved against the repo root
	Path string `mapstructure:"path" toml:"path"`
}

type Scheduler struct {
	TickInterval    time.Duration `mapstructure:"tick_interval" toml:"tick_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" toml:"cleanup_interval"`
}

type Transport struct {
	NatsURL        string        `mapstructure:"nats_url" toml:"nats_url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix" toml:"subject_prefix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" toml:"request_timeout"`
	ConnectRetries uint          `mapstructure:"connect_retries" toml:"connect_retries"`
}

type Metrics struct {
	Enable bool   `mapstructure:"enable" toml:"enable"`
	Listen string `mapstructure:"listen" toml:"listen"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		Council: Council{
			CommandPrefix: "!",
		},
		Vote: Vote{
			DefaultWindow:  24 * time.Hour,
			DraftTTL:       10 * time.Minute,
			SelectionTTL:   10 * time.Minute,
			FallbackQuorum: 0,
			MaxCandidates:  8,
			ListLimit:      12,
			YesTokens:      []string{"sim", "s", "yes", "y", "✅", "👍"},
			NoTokens:       []string{"nao", "não", "n", "no", "❌", "👎"},
		},
		XP: XP{
			Base:    10,
			K:       6,
			MinMult: 0.5,
			MaxMult: 3.5,
		},
		Stickers: Stickers{
			Yes:  []string{},
			No:   []string{},
			Lock: []string{},
		},
		Storage: Storage{
			Type: StorageLevelDB,
			Path: "data",
		},
		Scheduler: Scheduler{
			TickInterval:    30 * time.Second,
			CleanupInterval: time.Minute,
		},
		Transport: Transport{
			NatsURL:        "nats://127.0.0.1:4222",
			SubjectPrefix:  "council",
			RequestTimeout: 5 * time.Second,
			ConnectRetries: 5,
		},
		Metrics: Metrics{
			Enable: false,
			Listen: "127.0.0.1:9102",
		},
		Log: Log{
			Level:        "info",
			Filename:     "council.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
	}
}
