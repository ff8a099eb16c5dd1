package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	APIKey                string        `env:"WT_API_KEY,required" validate:"required"`
	Secret                string        `env:"WT_SECRET,required" validate:"required"`
	ProductID             string        `env:"WT_PRODUCT_ID,required" validate:"required"`
	ProductName           string        `env:"WT_PRODUCT_NAME"`
	Endpoint              string        `env:"WT_ENDPOINT,default=https://sdk-api-v1.singular.net/api/v1/" validate:"required,url"`
	Port                  string        `env:"WT_PORT,default=9191" validate:"required,numeric"`
	DBPath                string        `env:"WT_DB_PATH,default=/data/webtrack.db"`
	SessionDir            string        `env:"WT_SESSION_DIR,default=/run/webtrack/session"`
	CookiePath            string        `env:"WT_COOKIE_PATH,default=/data/webtrack-cookies.json"`
	LogLevel              string        `env:"WT_LOG_LEVEL,default=info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	SessionTimeout        time.Duration `env:"WT_SESSION_TIMEOUT,default=30m" validate:"gt=0"`
	DeviceID              string        `env:"WT_DEVICE_ID"`
	AutoPersistDomain     string        `env:"WT_AUTO_PERSIST_DOMAIN"`
	CustomUserID          string        `env:"WT_CUSTOM_USER_ID"`
	LandingURL            string        `env:"WT_LANDING_URL" validate:"omitempty,url"`
	Referrer              string        `env:"WT_REFERRER"`
	UserAgent             string        `env:"WT_USER_AGENT"`
	QueueCapacity         int           `env:"WT_QUEUE_CAPACITY,default=1000" validate:"gt=0"`
	RequestTimeout        time.Duration `env:"WT_REQUEST_TIMEOUT,default=30s" validate:"gt=0"`
	DrainInterval         time.Duration `env:"WT_DRAIN_INTERVAL,default=1m" validate:"gt=0"`
	UnloadTimeout         time.Duration `env:"WT_UNLOAD_TIMEOUT,default=15s" validate:"gt=0"`
	MaxParamBytes         int           `env:"WT_MAX_PARAM_BYTES,default=16384" validate:"gte=0"`
	SDKWrapper            string        `env:"WT_SDK_WRAPPER"`
	WALCheckpointInterval time.Duration `env:"WT_WAL_CHECKPOINT_INTERVAL,default=10m" validate:"gt=0"`
	WALRestartThresholdB  int64         `env:"WT_WAL_RESTART_THRESHOLD_BYTES,default=52428800" validate:"gt=0"`
}

func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration from lookuper and validates it.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "webtrack %s\n\n", version)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  WT_API_KEY=              (required)")
	fmt.Fprintln(w, "  WT_SECRET=               (required)")
	fmt.Fprintln(w, "  WT_PRODUCT_ID=           (required)")
	fmt.Fprintln(w, "  WT_PRODUCT_NAME=")
	fmt.Fprintln(w, "  WT_ENDPOINT=https://sdk-api-v1.singular.net/api/v1/")
	fmt.Fprintln(w, "  WT_PORT=9191")
	fmt.Fprintln(w, "  WT_DB_PATH=/data/webtrack.db")
	fmt.Fprintln(w, "  WT_SESSION_DIR=/run/webtrack/session")
	fmt.Fprintln(w, "  WT_COOKIE_PATH=/data/webtrack-cookies.json")
	fmt.Fprintln(w, "  WT_LOG_LEVEL=info")
	fmt.Fprintln(w, "  WT_SESSION_TIMEOUT=30m")
	fmt.Fprintln(w, "  WT_DEVICE_ID=")
	fmt.Fprintln(w, "  WT_AUTO_PERSIST_DOMAIN=")
	fmt.Fprintln(w, "  WT_CUSTOM_USER_ID=")
	fmt.Fprintln(w, "  WT_LANDING_URL=")
	fmt.Fprintln(w, "  WT_REFERRER=")
	fmt.Fprintln(w, "  WT_USER_AGENT=")
	fmt.Fprintln(w, "  WT_QUEUE_CAPACITY=1000")
	fmt.Fprintln(w, "  WT_REQUEST_TIMEOUT=30s")
	fmt.Fprintln(w, "  WT_DRAIN_INTERVAL=1m")
	fmt.Fprintln(w, "  WT_UNLOAD_TIMEOUT=15s")
	fmt.Fprintln(w, "  WT_MAX_PARAM_BYTES=16384")
	fmt.Fprintln(w, "  WT_SDK_WRAPPER=")
	fmt.Fprintln(w, "  WT_WAL_CHECKPOINT_INTERVAL=10m")
	fmt.Fprintln(w, "  WT_WAL_RESTART_THRESHOLD_BYTES=52428800")
}
