package config

import (
	"reflect"
	"sort"
	"strings"

	logx "castbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (api_hash, phone, password, tokens)
// are never included; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.APIID != nt.APIID ||
		ot.APIHash != nt.APIHash ||
		ot.Phone != nt.Phone ||
		ot.Password != nt.Password ||
		strings.TrimSpace(ot.SessionFile) != strings.TrimSpace(nt.SessionFile) ||
		ot.RatePerSec != nt.RatePerSec ||
		ot.MTProtoLogLevel != nt.MTProtoLogLevel {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.api_id", nt.APIID),
			logx.Secret("telegram.api_hash", nt.APIHash),
			logx.Secret("telegram.phone", nt.Phone),
			logx.Secret("telegram.password", nt.Password),
			logx.String("telegram.session_file", strings.TrimSpace(nt.SessionFile)),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.delay", strings.TrimSpace(newCfg.Broadcast.DelayBetweenMessages)),
			logx.String("broadcast.interval", strings.TrimSpace(newCfg.Broadcast.IntervalBetweenBatches)),
			logx.Int("broadcast.dialog_limit", newCfg.Broadcast.DialogLimit),
			logx.String("broadcast.code_timeout", strings.TrimSpace(newCfg.Broadcast.CodeTimeout)),
		)
	}

	if strings.TrimSpace(oldCfg.Control.PollTimeout) != strings.TrimSpace(newCfg.Control.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Control.OwnerUserIDs, newCfg.Control.OwnerUserIDs) ||
		oldCfg.Control.BotToken != newCfg.Control.BotToken {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.String("control.poll_timeout", strings.TrimSpace(newCfg.Control.PollTimeout)),
			logx.Int("control.owner_count", len(newCfg.Control.OwnerUserIDs)),
			logx.Secret("control.bot_token", newCfg.Control.BotToken),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if od, nd := oldCfg.Debug, newCfg.Debug; od != nd {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Secret("debug.token", nd.Token),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	// Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
