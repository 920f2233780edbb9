package server

import (
	"net/http"
	"time"
)

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port uint16 `env:"PORT" envDefault:"9000"`
}

// Option alters the default configuration of the http.Server used during new Server construction
type Option interface {
	apply(*http.Server)
}

type optionFunc func(s *http.Server)

func (f optionFunc) apply(s *http.Server) { f(s) }

// ReadTimeout sets read timeout for http.Server
func ReadTimeout(d time.Duration) Option {
	return optionFunc(func(s *http.Server) {
		s.ReadTimeout = d
	})
}
