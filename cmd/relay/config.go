package main

import (
	"fmt"
	"time"
)

type Config struct {
	Port            int           `env:"PORT,default=8080"`
	JWTSecret       string        `env:"JWT_SECRET,required=true"`
	BadgerFilepath  string        `env:"BADGER_FILEPATH,required=true"`
	ReplayLimit     int           `env:"REPLAY_LIMIT,default=500"`
	BufferSize      int           `env:"BUFFER_SIZE,default=256"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	PresenceTTL     time.Duration `env:"PRESENCE_TTL,default=2m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
}

func (c Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	return nil
}
