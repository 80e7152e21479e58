package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is set when server.log_level differs; the new level
	// can be applied to a running recorder.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists changed settings a running recorder cannot pick
	// up, by YAML path.
	RestartRequired []string
}

// Empty reports whether no tracked setting changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.otlp_endpoint", old.Server.OTLPEndpoint != new.Server.OTLPEndpoint)
	restart("discord.token", old.Discord.Token != new.Discord.Token)
	restart("discord.guild_id", old.Discord.GuildID != new.Discord.GuildID)
	restart("capture.directory", old.Capture.Directory != new.Capture.Directory)
	restart("capture.reconnect", old.Capture.Reconnect != new.Capture.Reconnect)
	restart("audio", old.Audio != new.Audio)

	return d
}
