package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID,required=true"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN,required=true"`
	FromNumber       string `env:"TWILIO_FROM_NUMBER,required=true"`
	CallbackURL      string `env:"CALLBACK_URL,required=true"`

	DataDir               string `env:"DATA_DIR,default=./data"`
	SendIntervalMS        int    `env:"SEND_INTERVAL_MS,default=250"`
	ProviderTimeoutMS     int    `env:"PROVIDER_TIMEOUT_MS,default=10000"`
	ProgressMinIntervalMS int    `env:"PROGRESS_MIN_INTERVAL_MS,default=200"`
	APIPort               int    `env:"API_PORT,default=8080"`
	LogLevel              string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMS) * time.Millisecond
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}

func (c *Config) ProgressMinInterval() time.Duration {
	return time.Duration(c.ProgressMinIntervalMS) * time.Millisecond
}
