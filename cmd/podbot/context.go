package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/MrWong99/podbot/internal/config"
)

// defaultConfigPath is read when present; a missing default file means
// running on defaults and environment overrides.
const defaultConfigPath = "podbot.yaml"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	// level backs the default logger so the config watcher can change it.
	level slog.LevelVar
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the configuration once and installs the default
// logger.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := defaultConfigPath
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		switch {
		case err == nil:
			c.configPath = path
		case errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath:
			cfg = config.Default()
			if err := config.Validate(cfg); err != nil {
				c.configErr = err
				return
			}
		default:
			c.configErr = err
			return
		}
		c.config = cfg
		c.level.Set(slogLevel(cfg.Server.LogLevel))
		slog.SetDefault(newLogger(os.Stderr, &c.level))
	})
	return c.config, c.configErr
}
