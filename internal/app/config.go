package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Values come from the YAML file,
// then MUSICBRIDGE_* environment overrides, then defaults.
type Config struct {
	MusicDirs      []string       `yaml:"music_dirs"`
	TimerBufferSec float64        `yaml:"timer_buffer_sec"`
	Extensions     []string       `yaml:"supported_audio_extensions"`
	Search         SearchConfig   `yaml:"search"`
	Commands       CommandsConfig `yaml:"commands"`
	HTTP           HTTPConfig     `yaml:"http"`
	Speaker        SpeakerConfig  `yaml:"speaker"`
	Logging        LoggingConfig  `yaml:"logging"`
}

type SearchConfig struct {
	MaxResults         int    `yaml:"max_results"`
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"` // 0 disables periodic refresh
	IndexFile          string `yaml:"index_file"`           // empty disables persistence
	Watch              bool   `yaml:"watch"`
}

type CommandsConfig struct {
	PlayKeywords               []string `yaml:"play_keywords"`
	StopKeywords               []string `yaml:"stop_keywords"`
	RefreshKeywords            []string `yaml:"refresh_keywords"`
	RandomPlayKeywords         []string `yaml:"random_play_keywords"`
	InterruptWhitelistKeywords []string `yaml:"interrupt_whitelist_keywords"`
	ReplyInterruptTimeoutSec   float64  `yaml:"reply_interrupt_timeout_sec"`
	ReplyInterruptCooldownSec  float64  `yaml:"reply_interrupt_cooldown_sec"`
	AutoResumeDelaySec         float64  `yaml:"auto_resume_delay_sec"`
}

type HTTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	BaseURL  string `yaml:"base_url"`
	DeviceIP string `yaml:"device_ip"`
}

type SpeakerConfig struct {
	Addr          string  `yaml:"addr"`
	RPCTimeoutSec float64 `yaml:"rpc_timeout_sec"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and normalizes paths. A missing file yields pure defaults;
// malformed YAML is an error.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// defaults only
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		TimerBufferSec: 1.5,
		Extensions:     []string{".mp3", ".flac", ".wav", ".m4a", ".aac", ".ogg", ".wma", ".ape"},
		Search: SearchConfig{
			MaxResults:         20,
			RefreshIntervalSec: 300,
			Watch:              true,
		},
		Commands: CommandsConfig{
			PlayKeywords:               []string{"播放"},
			StopKeywords:               []string{"停止播放", "暂停播放", "停止", "暂停", "闭嘴", "别放了", "不要放了"},
			RefreshKeywords:            []string{"刷新曲库", "更新曲库", "重建曲库"},
			RandomPlayKeywords:         []string{"随机播放", "随便放首歌", "随便放点音乐"},
			InterruptWhitelistKeywords: []string{"几点了", "现在几点", "今天天气"},
			ReplyInterruptTimeoutSec:   20,
			ReplyInterruptCooldownSec:  1.2,
			AutoResumeDelaySec:         1.8,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 18080,
		},
		Speaker: SpeakerConfig{
			Addr:          ":4399",
			RPCTimeoutSec: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnv(cfg *Config) {
	if dirs := os.Getenv("MUSICBRIDGE_MUSIC_DIRS"); dirs != "" {
		cfg.MusicDirs = filepath.SplitList(dirs)
	}
	cfg.HTTP.Port = int(getEnvInt64("MUSICBRIDGE_HTTP_PORT", int64(cfg.HTTP.Port)))
	cfg.HTTP.BaseURL = getEnv("MUSICBRIDGE_HTTP_BASE_URL", cfg.HTTP.BaseURL)
	cfg.Search.IndexFile = getEnv("MUSICBRIDGE_INDEX_FILE", cfg.Search.IndexFile)
	cfg.Logging.Level = getEnv("MUSICBRIDGE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("MUSICBRIDGE_LOG_FORMAT", cfg.Logging.Format)
	cfg.Speaker.Addr = getEnv("MUSICBRIDGE_SPEAKER_ADDR", cfg.Speaker.Addr)
}

func normalize(cfg *Config) error {
	dirs := cfg.MusicDirs[:0]
	for _, dir := range cfg.MusicDirs {
		expanded, err := expandPath(dir)
		if err != nil {
			return fmt.Errorf("music dir %q: %w", dir, err)
		}
		if expanded != "" {
			dirs = append(dirs, expanded)
		}
	}
	cfg.MusicDirs = dirs

	if cfg.Search.IndexFile != "" {
		expanded, err := expandPath(cfg.Search.IndexFile)
		if err != nil {
			return fmt.Errorf("index file %q: %w", cfg.Search.IndexFile, err)
		}
		cfg.Search.IndexFile = expanded
	}

	exts := cfg.Extensions[:0]
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	cfg.Extensions = exts

	if cfg.TimerBufferSec < 0 {
		cfg.TimerBufferSec = 0
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = 20
	}
	if cfg.Search.RefreshIntervalSec < 0 {
		cfg.Search.RefreshIntervalSec = 0
	}
	if cfg.Commands.ReplyInterruptTimeoutSec <= 0 {
		cfg.Commands.ReplyInterruptTimeoutSec = 20
	}
	if cfg.Commands.ReplyInterruptCooldownSec < 0 {
		cfg.Commands.ReplyInterruptCooldownSec = 0
	}
	if cfg.Commands.AutoResumeDelaySec < 0 {
		cfg.Commands.AutoResumeDelaySec = 0
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		cfg.HTTP.Port = 18080
	}
	if cfg.Speaker.Addr == "" {
		cfg.Speaker.Addr = ":4399"
	}
	if cfg.Speaker.RPCTimeoutSec <= 0 {
		cfg.Speaker.RPCTimeoutSec = 10
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	return nil
}

// expandPath resolves a leading ~ and makes the path absolute.
// Empty input stays empty.
func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func (c Config) TimerBuffer() time.Duration {
	return secondsToDuration(c.TimerBufferSec)
}

func (c SearchConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

func (c CommandsConfig) ReplyInterruptTimeout() time.Duration {
	return secondsToDuration(c.ReplyInterruptTimeoutSec)
}

func (c CommandsConfig) ReplyInterruptCooldown() time.Duration {
	return secondsToDuration(c.ReplyInterruptCooldownSec)
}

func (c CommandsConfig) AutoResumeDelay() time.Duration {
	return secondsToDuration(c.AutoResumeDelaySec)
}

func (c HTTPConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c SpeakerConfig) RPCTimeout() time.Duration {
	return secondsToDuration(c.RPCTimeoutSec)
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}
