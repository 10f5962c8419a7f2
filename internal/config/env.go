package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	EnvAPIID    = "CASTBOT_API_ID"
	EnvAPIHash  = "CASTBOT_API_HASH"
	EnvPhone    = "CASTBOT_PHONE"
	EnvPassword = "CASTBOT_PASSWORD"
	EnvBotToken = "CASTBOT_BOT_TOKEN"
)

// ApplyEnv overlays credentials from the environment. Empty variables are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvAPIID); ok {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			return fmt.Errorf("%s: invalid api id %q", EnvAPIID, v)
		}
		cfg.Telegram.APIID = id
	}
	if v, ok := get(EnvAPIHash); ok {
		cfg.Telegram.APIHash = v
	}
	if v, ok := get(EnvPhone); ok {
		cfg.Telegram.Phone = v
	}
	if v, ok := get(EnvPassword); ok {
		cfg.Telegram.Password = v
	}
	if v, ok := get(EnvBotToken); ok {
		cfg.Control.BotToken = v
	}
	return nil
}
