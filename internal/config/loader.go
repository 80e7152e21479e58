package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/podbot/internal/ffmpeg"
	"github.com/MrWong99/podbot/internal/mixdown"
	"github.com/MrWong99/podbot/pkg/audio/opus"
)

// TokenEnv is the environment variable that overrides discord.token.
const TokenEnv = "PODBOT_DISCORD_TOKEN"

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field. Environment overrides are applied
// here as well so that they pass through validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		cfg.Discord.Token = tok
	}
	if cfg.Capture.Directory == "" {
		cfg.Capture.Directory = "recordings"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = opus.DiscordFormat.SampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = opus.DiscordFormat.Channels
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = opus.DiscordFormat.FrameSize
	}
	if cfg.Audio.StripHeaderBytes == 0 {
		cfg.Audio.StripHeaderBytes = 8
	}
	if cfg.Reassembly.FFmpegPath == "" {
		cfg.Reassembly.FFmpegPath = "ffmpeg"
	}
	if cfg.Reassembly.MaxCommandLength == 0 {
		cfg.Reassembly.MaxCommandLength = ffmpeg.DefaultMaxCommandLength
	}
	if cfg.Reassembly.Concurrency == 0 {
		cfg.Reassembly.Concurrency = 2
	}
	if cfg.Reassembly.OutputFormat == "" {
		cfg.Reassembly.OutputFormat = ffmpeg.FormatWAV
	}
	if cfg.Reassembly.GracePeriod == 0 {
		cfg.Reassembly.GracePeriod = 5 * time.Second
	}
	if cfg.Mixdown.Mode == "" {
		cfg.Mixdown.Mode = mixdown.ModeMix
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_rate %v must be between 0 and 1", r))
	}

	// Audio
	f := AudioFormat(cfg)
	if err := f.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.StripHeaderBytes < -1 {
		errs = append(errs, fmt.Errorf("audio.strip_header_bytes %d is invalid; use -1 to disable", cfg.Audio.StripHeaderBytes))
	}

	// Capture
	if cfg.Capture.Reconnect.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("capture.reconnect.max_retries %d is invalid; use -1 to disable", cfg.Capture.Reconnect.MaxRetries))
	}
	if cfg.Capture.Reconnect.Backoff < 0 || cfg.Capture.Reconnect.MaxBackoff < 0 {
		errs = append(errs, errors.New("capture.reconnect backoff durations must not be negative"))
	}

	// Reassembly
	if cfg.Reassembly.OutputFormat != "" {
		if err := cfg.Reassembly.OutputFormat.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("reassembly.output_format: %w", err))
		}
	}
	if cfg.Reassembly.MaxCommandLength < 0 {
		errs = append(errs, fmt.Errorf("reassembly.max_command_length %d must be positive", cfg.Reassembly.MaxCommandLength))
	}
	if cfg.Reassembly.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("reassembly.concurrency %d must be positive", cfg.Reassembly.Concurrency))
	}
	if cfg.Reassembly.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("reassembly.grace_period %s must not be negative", cfg.Reassembly.GracePeriod))
	}

	// Mixdown
	if cfg.Mixdown.Mode != "" && !cfg.Mixdown.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mixdown.mode %q is invalid; valid values: mix, merge", cfg.Mixdown.Mode))
	}
	if cfg.MixdownEnabled() && cfg.Mixdown.Mode == mixdown.ModeMerge && cfg.Reassembly.OutputFormat == ffmpeg.FormatMP3 {
		slog.Warn("mixdown.mode merge cannot be written as mp3 for more than one speaker; such sessions will skip the mix")
	}

	return errors.Join(errs...)
}

// ValidateRecording checks the settings only the record command needs.
func ValidateRecording(cfg *Config) error {
	var errs []error
	if cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required (or set %s)", TokenEnv))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	return errors.Join(errs...)
}

// AudioFormat returns the PCM layout described by cfg.Audio.
func AudioFormat(cfg *Config) opus.Format {
	return opus.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		FrameSize:  cfg.Audio.FrameSize,
	}
}

// Fallbacks returns the decode fallback chain described by cfg.Audio.
func Fallbacks(cfg *Config) []opus.Fallback {
	if cfg.Audio.StripHeaderBytes < 0 {
		return []opus.Fallback{}
	}
	return []opus.Fallback{opus.StripHeader(cfg.Audio.StripHeaderBytes)}
}
