package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/seamarks/helmsman/internal/tracing"
)

// Config is the full engine configuration loaded from YAML with env
// overrides for the knobs that change between deployments.
type Config struct {
	Server        ServerConfig     `mapstructure:"server"`
	Workspace     WorkspaceConfig  `mapstructure:"workspace"`
	Workflows     WorkflowsConfig  `mapstructure:"workflows"`
	Schedules     SchedulesConfig  `mapstructure:"schedules"`
	Permissions   PermissionConfig `mapstructure:"permissions"`
	Orchestrator  OrchConfig       `mapstructure:"orchestrator"`
	Model         ModelConfig      `mapstructure:"model"`
	Background    BackgroundConfig `mapstructure:"background"`
	Notifications NotifyConfig     `mapstructure:"notifications"`
	Logging       LoggingConfig    `mapstructure:"logging"`
	Tracing       tracing.Config   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	WebhookSecret  string  `mapstructure:"webhook_secret"`
	WebhookRateRPS float64 `mapstructure:"webhook_rate_rps"`
	WebhookBurst   int     `mapstructure:"webhook_burst"`
}

type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

type WorkflowsConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

type SchedulesConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite3 or postgres
	DSN      string `mapstructure:"dsn"`
	Timezone string `mapstructure:"timezone"`
}

type PermissionConfig struct {
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
	PolicyDir       string        `mapstructure:"policy_dir"` // optional rego overlay
	FailClosed      bool          `mapstructure:"fail_closed"`
}

type OrchConfig struct {
	MaxToolRounds int           `mapstructure:"max_tool_rounds"`
	MaxToolCalls  int           `mapstructure:"max_tool_calls"`
	MaxWallClock  time.Duration `mapstructure:"max_wall_clock"`
}

type ModelConfig struct {
	ServiceURL string        `mapstructure:"service_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type BackgroundConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

type NotifyConfig struct {
	RedisAddr    string `mapstructure:"redis_addr"` // empty disables the redis sink
	RedisChannel string `mapstructure:"redis_channel_prefix"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads the config file from CONFIG_PATH (default
// config/helmsman.yaml), applies defaults, then env overrides.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/helmsman.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus env cover the common case.
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&c)
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.webhook_rate_rps", 5.0)
	v.SetDefault("server.webhook_burst", 10)
	v.SetDefault("workspace.root", "workspace")
	v.SetDefault("workflows.dir", "config/workflows")
	v.SetDefault("workflows.watch", true)
	v.SetDefault("schedules.driver", "sqlite3")
	v.SetDefault("schedules.dsn", "data/schedules.db")
	v.SetDefault("schedules.timezone", "UTC")
	v.SetDefault("permissions.approval_timeout", 30*time.Second)
	v.SetDefault("permissions.fail_closed", false)
	v.SetDefault("orchestrator.max_tool_rounds", 10)
	v.SetDefault("orchestrator.max_tool_calls", 10)
	v.SetDefault("orchestrator.max_wall_clock", 60*time.Second)
	v.SetDefault("model.service_url", "http://localhost:8000")
	v.SetDefault("model.timeout", 120*time.Second)
	v.SetDefault("background.history_size", 50)
	v.SetDefault("notifications.redis_channel_prefix", "helmsman:notify")
	v.SetDefault("tracing.service_name", "helmsman")
}

func applyEnvOverrides(c *Config) {
	if p := os.Getenv("HELMSMAN_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
	if s := os.Getenv("WEBHOOK_SECRET"); s != "" {
		c.Server.WebhookSecret = s
	}
	if w := os.Getenv("WORKSPACE_ROOT"); w != "" {
		c.Workspace.Root = w
	}
	if d := os.Getenv("WORKFLOWS_DIR"); d != "" {
		c.Workflows.Dir = d
	}
	if dsn := os.Getenv("SCHEDULES_DSN"); dsn != "" {
		c.Schedules.DSN = dsn
	}
	if drv := os.Getenv("SCHEDULES_DRIVER"); drv != "" {
		c.Schedules.Driver = drv
	}
	if a := os.Getenv("REDIS_ADDR"); a != "" {
		c.Notifications.RedisAddr = a
	}
	if u := os.Getenv("MODEL_SERVICE_URL"); u != "" {
		c.Model.ServiceURL = u
	}
}
