package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/awmpietro/reaction-sim/internal/sim"
)

const envPrefix = "REACTSIM"

// Runtime is the process configuration shared by the server, the lambda and
// the CLI. Values come from REACTSIM_* variables, optionally layered over the
// YAML file named by REACTSIM_CONFIG.
type Runtime struct {
	HTTPAddr           string        `mapstructure:"http_addr" validate:"required"`
	CacheMaxItems      int           `mapstructure:"cache_max_items" validate:"min=1"`
	MaxRuns            int           `mapstructure:"max_runs" validate:"min=1"`
	RunTimeout         time.Duration `mapstructure:"run_timeout" validate:"gt=0"`
	SuccessProbability float64       `mapstructure:"success_probability" validate:"gte=0,lte=1"`
	MinDuration        time.Duration `mapstructure:"min_duration" validate:"gte=0"`
	MaxDuration        time.Duration `mapstructure:"max_duration" validate:"gtefield=MinDuration"`
	SpeedMultiplier    float64       `mapstructure:"speed_multiplier" validate:"gt=0"`
	NotifierBuffer     int           `mapstructure:"notifier_buffer" validate:"min=1"`
	LogLevel           string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat          string        `mapstructure:"log_format" validate:"oneof=text json"`
	// AllowedOrigins may open run event streams cross-origin; comma separated in env.
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"dive,required"`
}

func defaults(v *viper.Viper) {
	run := sim.DefaultRunConfig()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("cache_max_items", 1024)
	v.SetDefault("max_runs", 64)
	v.SetDefault("run_timeout", time.Minute)
	v.SetDefault("success_probability", run.SuccessProbability)
	v.SetDefault("min_duration", run.DurationRange.Min)
	v.SetDefault("max_duration", run.DurationRange.Max)
	v.SetDefault("speed_multiplier", run.SpeedMultiplier)
	v.SetDefault("notifier_buffer", 4096)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("allowed_origins", []string{})
}

func Load() (Runtime, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Runtime{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var rt Runtime
	if err := v.Unmarshal(&rt); err != nil {
		return Runtime{}, fmt.Errorf("decode config: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}

var validate = validator.New()

func (r Runtime) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Field(), fe.Tag()+paramSuffix(fe.Param()), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// RunConfig converts the engine-related settings.
func (r Runtime) RunConfig() sim.RunConfig {
	return sim.RunConfig{
		SuccessProbability: r.SuccessProbability,
		DurationRange:      sim.DurationRange{Min: r.MinDuration, Max: r.MaxDuration},
		SpeedMultiplier:    r.SpeedMultiplier,
	}
}

// NewLogger builds a text or JSON slog logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
