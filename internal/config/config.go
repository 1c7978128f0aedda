package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	Telegram struct {
		PollTimeout int     `mapstructure:"poll_timeout"`
		SendRPS     float64 `mapstructure:"send_rps"`
	} `mapstructure:"telegram"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Redis struct {
		Enabled bool
		Addr    string
		LockTTL time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"redis"`

	RabbitMQ struct {
		Enabled  bool
		URL      string
		Exchange string
	} `mapstructure:"rabbitmq"`

	LLM struct {
		APIKey  string        `mapstructure:"api_key"`
		BaseURL string        `mapstructure:"base_url"`
		Model   string        `mapstructure:"model"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"llm"`

	Dialog struct {
		MaxExtractionRetries int           `mapstructure:"max_extraction_retries"`
		IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
		SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"dialog"`
}

func Load(path string) (Config, error) {
	// .env необязателен: в проде всё приходит из окружения
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "Europe/Moscow")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("telegram.send_rps", 25)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("rabbitmq.exchange", "repairbot.leads")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 15*time.Second)
	v.SetDefault("dialog.max_extraction_retries", 2)
	v.SetDefault("dialog.idle_timeout", 2*time.Hour)
	v.SetDefault("dialog.sweep_interval", 5*time.Minute)
}
