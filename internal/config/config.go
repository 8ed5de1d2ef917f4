// Package config resolves runtime configuration from an optional YAML file,
// STAGEWHISPER_* environment variables and CLI overrides, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores the resolved runtime configuration.
type Config struct {
	Provider string
	OpenAI   OpenAIConfig
	Gladia   GladiaConfig
	Audio    AudioConfig
	Classify ClassifyConfig
	Rules    RulesConfig
	Server   ServerConfig
}

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Prompt   string
}

type GladiaConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

type AudioConfig struct {
	PactlCommand  string
	FFmpegCommand string
	Channels      int
	MonitorPath   string
}

type ClassifyConfig struct {
	KeywordsFile string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type ServerConfig struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// Load resolves configuration without CLI overrides.
func Load() (Config, error) {
	return LoadWith(nil)
}

// LoadWith resolves configuration and applies overrides on top. Override
// keys use the config-file notation, for example "server.listen_addr".
func LoadWith(overrides map[string]string) (Config, error) {
	v := viper.New()
	v.SetConfigName("stagewhisper")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "stagewhisper"))
	}
	v.SetEnvPrefix("stagewhisper")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", "openai")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-transcribe")
	v.SetDefault("openai.language", "en")
	v.SetDefault("gladia.base_url", "https://api.gladia.io")
	v.SetDefault("gladia.model", "solaria-1")
	v.SetDefault("gladia.language", "en")
	v.SetDefault("audio.pactl_command", "pactl")
	v.SetDefault("audio.ffmpeg_command", "ffmpeg")
	v.SetDefault("audio.channels", 1)
	v.SetDefault("rules.iteration_limit", 30)
	v.SetDefault("server.listen_addr", "127.0.0.1:8170")
	v.SetDefault("server.shutdown_timeout_ms", 5000)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, value := range overrides {
		if strings.TrimSpace(value) == "" {
			continue
		}
		v.Set(key, value)
	}

	cfg := Config{
		Provider: strings.ToLower(strings.TrimSpace(v.GetString("provider"))),
		OpenAI: OpenAIConfig{
			APIKey: firstNonEmpty(
				v.GetString("openai.api_key"),
				os.Getenv("OPENAI_API_KEY"),
			),
			BaseURL:  strings.TrimRight(v.GetString("openai.base_url"), "/"),
			Model:    v.GetString("openai.model"),
			Language: v.GetString("openai.language"),
			Prompt:   v.GetString("openai.prompt"),
		},
		Gladia: GladiaConfig{
			APIKey: firstNonEmpty(
				v.GetString("gladia.api_key"),
				os.Getenv("GLADIA_API_KEY"),
			),
			BaseURL:  strings.TrimRight(v.GetString("gladia.base_url"), "/"),
			Model:    v.GetString("gladia.model"),
			Language: v.GetString("gladia.language"),
		},
		Audio: AudioConfig{
			PactlCommand:  v.GetString("audio.pactl_command"),
			FFmpegCommand: v.GetString("audio.ffmpeg_command"),
			Channels:      v.GetInt("audio.channels"),
			MonitorPath:   v.GetString("audio.monitor_path"),
		},
		Classify: ClassifyConfig{
			KeywordsFile: resolveUserFile(v.GetString("classify.keywords_file"), "keywords.rules"),
		},
		Rules: RulesConfig{
			Path:           resolveUserFile(v.GetString("rules.path"), "substitutions.rules"),
			IterationLimit: v.GetInt("rules.iteration_limit"),
		},
		Server: ServerConfig{
			ListenAddr:      v.GetString("server.listen_addr"),
			ShutdownTimeout: time.Duration(v.GetInt("server.shutdown_timeout_ms")) * time.Millisecond,
		},
	}

	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}

	return cfg, nil
}

// resolveUserFile falls back to the named per-user file under
// ~/.config/stagewhisper when it exists; an absent file means the
// feature's built-in behavior.
func resolveUserFile(configured, name string) string {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(home, ".config", "stagewhisper", name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
