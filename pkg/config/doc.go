// Package config loads typed configuration from environment variables.
//
// It combines github.com/joho/godotenv for .env files with
// github.com/caarlos0/env/v11 for struct parsing. Each configuration type is
// parsed once and cached for the life of the process; types that implement
// Validator are checked before they are cached.
//
//	type Config struct {
//		DatabaseURL string        `env:"DATABASE_URL,required"`
//		Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// The same struct can be loaded under several prefixes, for example one queue
// configuration per tenant:
//
//	config.Load(&cfg, config.WithPrefix("BILLING_"))
//
// Tests should use WithEnvironment, which parses a map and bypasses the cache,
// or call Reset after changing the process environment.
package config
