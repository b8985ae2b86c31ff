package commands

import (
	"github.com/kelseyhightower/envconfig"
)

// Config holds the defaults of every command, read from COLLAB_* variables.
// Flags override them.
type Config struct {
	RelayURL  string `envconfig:"RELAY_URL" default:"ws://localhost:8080/ws"`
	Token     string `envconfig:"TOKEN"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"WARN"`
	Colours   bool   `envconfig:"COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("collab", &cfg)
	return cfg, err
}
