// Package config provides the configuration schema, loader, and file watcher
// for the podbot recorder and its offline processing pipeline.
package config

import (
	"time"

	"github.com/MrWong99/podbot/internal/ffmpeg"
	"github.com/MrWong99/podbot/internal/mixdown"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for podbot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Discord    DiscordConfig    `yaml:"discord"`
	Capture    CaptureConfig    `yaml:"capture"`
	Audio      AudioConfig      `yaml:"audio"`
	Reassembly ReassemblyConfig `yaml:"reassembly"`
	Mixdown    MixdownConfig    `yaml:"mixdown"`
}

// ServerConfig holds logging and the optional observability endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// while recording (e.g., ":9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// OTLPEndpoint is the host:port of an OTLP/HTTP collector that receives
	// recording and processing spans. Empty disables trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure sends spans without TLS.
	OTLPInsecure bool `yaml:"otlp_insecure"`

	// TraceSampleRate is the fraction of traces exported. Default: 1.
	TraceSampleRate float64 `yaml:"trace_sample_rate"`
}

// DiscordConfig holds the bot credentials.
type DiscordConfig struct {
	// Token is the bot token. It may be left empty in the file and supplied
	// through the PODBOT_DISCORD_TOKEN environment variable.
	Token string `yaml:"token"`

	// GuildID is the server whose voice channel is recorded.
	GuildID string `yaml:"guild_id"`
}

// CaptureConfig controls where recordings are written.
type CaptureConfig struct {
	// Directory is the root under which one directory per session is
	// created. Default: "recordings".
	Directory string `yaml:"directory"`

	// Reconnect controls rejoining the channel after the voice connection
	// drops mid-recording.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig is the rejoin policy of a running recorder. Zero values
// select the built-in defaults.
type ReconnectConfig struct {
	// MaxRetries is the number of rejoin attempts before the recording ends.
	// Default: 10. Set to -1 to end the recording on the first drop.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the wait before the first attempt; it doubles per attempt.
	// Default: 1s.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the wait between attempts. Default: 30s.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// AudioConfig describes the decoded PCM layout. The defaults match the
// Discord voice format and rarely need changing.
type AudioConfig struct {
	// SampleRate in Hz. Default: 48000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of interleaved channels. Default: 2.
	Channels int `yaml:"channels"`

	// FrameSize is the maximum samples per channel a single frame may
	// decode to. Default: 1920.
	FrameSize int `yaml:"frame_size"`

	// StripHeaderBytes is the prefix removed from frames that fail to
	// decode before retrying. Default: 8. Set to -1 to disable the retry.
	StripHeaderBytes int `yaml:"strip_header_bytes"`
}

// ReassemblyConfig controls the offline pipeline.
type ReassemblyConfig struct {
	// FFmpegPath is the ffmpeg executable. Default: "ffmpeg".
	FFmpegPath string `yaml:"ffmpeg_path"`

	// MaxCommandLength caps the command text of each ffmpeg pass.
	// Default: 8000.
	MaxCommandLength int `yaml:"max_command_length"`

	// Concurrency bounds how many speakers are processed at once.
	// Default: 2.
	Concurrency int `yaml:"concurrency"`

	// OutputFormat is the encoding of tracks and the mix. Default: wav.
	OutputFormat ffmpeg.OutputFormat `yaml:"output_format"`

	// KeepIntermediate keeps decoded fragments after processing.
	KeepIntermediate bool `yaml:"keep_intermediate"`

	// GracePeriod is how long an interrupted ffmpeg may take to exit before
	// it is killed. Default: 5s.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// MixdownConfig controls the final export.
type MixdownConfig struct {
	// Enabled turns the mixdown on. Default: true.
	Enabled *bool `yaml:"enabled"`

	// Mode is mix or merge. Default: mix.
	Mode mixdown.Mode `yaml:"mode"`
}

// MixdownEnabled reports whether a mix is produced after the tracks.
func (c *Config) MixdownEnabled() bool {
	return c.Mixdown.Enabled == nil || *c.Mixdown.Enabled
}
