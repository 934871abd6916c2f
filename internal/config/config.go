package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = "127.0.0.1:8090"
	DefaultCodexBinary     = "codex"
	DefaultSandboxRoot     = "/tmp/codexrelay"
	DefaultLinkDirname     = ".relay-sandboxes"
	DefaultPlainLimit      = 3900
	DefaultMarkdownLimit   = 3500
	DefaultMaxUploadBytes  = 50 * 1024 * 1024
	DefaultMaxExtractFiles = 2000
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	Codex    CodexConfig    `toml:"codex"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Limits   LimitsConfig   `toml:"limits"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	// BotToken may also be supplied via the TELEGRAM_BOT_TOKEN environment
	// variable, which takes precedence over the file.
	BotToken string `toml:"bot_token"`
	// AllowedEntries holds numeric user/chat ids or usernames/t.me links.
	AllowedEntries []string `toml:"allowed_entries"`
	// PollTimeoutSeconds is the long-poll timeout passed to getUpdates.
	PollTimeoutSeconds int `toml:"poll_timeout_seconds"`
}

type CodexConfig struct {
	Binary  string `toml:"binary"`
	Model   string `toml:"model"`
	Workdir string `toml:"workdir"`
}

type SandboxConfig struct {
	Root        string `toml:"root"`
	LinkDirname string `toml:"link_dirname"`
}

type LimitsConfig struct {
	PlainMessageLength    int   `toml:"plain_message_length"`
	MarkdownMessageLength int   `toml:"markdown_message_length"`
	MaxUploadBytes        int64 `toml:"max_upload_bytes"`
	MaxExtractFiles       int   `toml:"max_extract_files"`
}

// Load reads a TOML config from path, falling back to defaults when the file
// does not exist. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 30,
		},
		Codex: CodexConfig{
			Binary: DefaultCodexBinary,
		},
		Sandbox: SandboxConfig{
			Root:        DefaultSandboxRoot,
			LinkDirname: DefaultLinkDirname,
		},
		Limits: LimitsConfig{
			PlainMessageLength:    DefaultPlainLimit,
			MarkdownMessageLength: DefaultMarkdownLimit,
			MaxUploadBytes:        DefaultMaxUploadBytes,
			MaxExtractFiles:       DefaultMaxExtractFiles,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); token != "" {
		cfg.Telegram.BotToken = token
	}
	if raw := strings.TrimSpace(os.Getenv("ALLOWED_CHAT_USER_IDS")); raw != "" {
		entries := make([]string, 0, 4)
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				entries = append(entries, part)
			}
		}
		cfg.Telegram.AllowedEntries = entries
	}
	if model := strings.TrimSpace(os.Getenv("CODEX_MODEL")); model != "" {
		cfg.Codex.Model = model
	}
}
