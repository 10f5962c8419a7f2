package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/control"
	"castbot/internal/observability"
	"castbot/internal/storage"
	"castbot/internal/transport/mtproto"
	logx "castbot/pkg/logx"
)

// Config mapping helpers. Each validates its section and resolves defaults;
// none of them has side effects, so the reload validator can call them all.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (observability.Config, error) {
	dc := cfg.Debug
	out := observability.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
	}
	if out.Addr == "" {
		out.Addr = observability.DefaultAddr
	}
	if !out.Enabled {
		return out, nil
	}
	host, _, err := net.SplitHostPort(out.Addr)
	if err != nil {
		return out, fmt.Errorf("debug.addr: invalid %q (expected host:port): %w", out.Addr, err)
	}
	if !out.AllowInsecure && out.Token == "" && !isLoopbackHost(host) {
		return out, observability.ErrInsecureBind
	}
	return out, nil
}

func isLoopbackHost(h string) bool {
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func mapProviderConfig(cfg *config.Config) (mtproto.Config, error) {
	tc := cfg.Telegram
	if tc.RatePerSec < 0 {
		return mtproto.Config{}, fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(tc.MTProtoLogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return mtproto.Config{}, fmt.Errorf("telegram.mtproto_log_level: unknown level %q", tc.MTProtoLogLevel)
	}
	return mtproto.Config{
		SessionFile: strings.TrimSpace(tc.SessionFile),
		RatePerSec:  tc.RatePerSec,
		LogLevel:    strings.ToLower(strings.TrimSpace(tc.MTProtoLogLevel)),
	}, nil
}

func mapControlConfig(cfg *config.Config) (control.Config, error) {
	bc := cfg.Broadcast
	if bc.DialogLimit < 0 {
		return control.Config{}, fmt.Errorf("broadcast.dialog_limit must be >= 0")
	}
	codeTimeout, err := config.Duration("broadcast.code_timeout", bc.CodeTimeout, auth.DefaultCodeTimeout)
	if err != nil {
		return control.Config{}, err
	}
	return control.Config{CodeTimeout: codeTimeout, DialogLimit: bc.DialogLimit}, nil
}

// validatePacing checks the configured defaults only when both are set;
// an operator may supply pacing per run instead.
func validatePacing(cfg *config.Config) error {
	d := strings.TrimSpace(cfg.Broadcast.DelayBetweenMessages)
	i := strings.TrimSpace(cfg.Broadcast.IntervalBetweenBatches)
	if d == "" && i == "" {
		return nil
	}
	_, err := broadcast.ParsePacing(d, i)
	return err
}

// Credentials returns the account credentials from cfg (env overrides already applied).
func Credentials(cfg *config.Config) auth.Credentials {
	return auth.Credentials{
		APIID:    cfg.Telegram.APIID,
		APIHash:  strings.TrimSpace(cfg.Telegram.APIHash),
		Phone:    strings.TrimSpace(cfg.Telegram.Phone),
		Password: cfg.Telegram.Password,
	}
}

// Validate checks every section of cfg. It is the hot-reload validator and
// backs `castbot check-config`.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validatePacing(cfg); err != nil {
		return err
	}
	if _, err := logx.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if _, err := mapControlConfig(cfg); err != nil {
		return err
	}
	if _, err := mapProviderConfig(cfg); err != nil {
		return err
	}
	if _, err := config.Duration("control.poll_timeout", cfg.Control.PollTimeout, 0); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

// OpenStore opens the configured ledger for read-only tools such as
// `castbot history`. It returns storage.ErrDisabled when storage is off.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}
