// Package config loads environment-based configuration structs. A .env file
// in the working directory is read once per process before the environment
// is parsed, which keeps local development and production wiring identical.
package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrNilPointer    = errors.New("nil pointer passed to config loader")
	ErrParsingFailed = errors.New("failed to parse environment into config")

	dotenvOnce sync.Once
)

// Load populates cfg from environment variables according to its `env` tags.
//
//	var pgCfg pg.Config
//	if err := config.Load(&pgCfg); err != nil {
//		// handle error
//	}
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilPointer
	}
	dotenvOnce.Do(func() {
		_ = godotenv.Load() // missing .env is fine
	})
	if err := env.Parse(cfg); err != nil {
		return errors.Join(ErrParsingFailed, err)
	}
	return nil
}

// MustLoad is Load for configuration the application cannot start without.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}
