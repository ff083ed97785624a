package main

import (
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/metalab/rendezvous/internal/rvid"
)

const (
	logFormatJSON = "json"
	logFormatText = "text"
)

// Config is read from the environment.
type Config struct {
	IDSalt         string        `env:"ID_SALT"         envDefault:"metalab rendezvous"`
	KioskInterval  time.Duration `env:"KIOSK_INTERVAL"  envDefault:"10s"`
	LogFormat      string        `env:"LOG_FORMAT"      envDefault:"text"`
	LogLevel       string        `env:"LOG_LEVEL"       envDefault:"info"`
	Port           int           `env:"PORT"            envDefault:"3000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL"  envDefault:"5s"`
}

func parseConfig() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, xerrors.Errorf("error parsing env config: %w", err)
	}

	if config.IDSalt == "" {
		config.IDSalt = rvid.DefaultSalt
	}

	for name, d := range map[string]time.Duration{
		"KIOSK_INTERVAL":  config.KioskInterval,
		"REQUEST_TIMEOUT": config.RequestTimeout,
		"SWEEP_INTERVAL":  config.SweepInterval,
	} {
		if d <= 0 {
			return nil, xerrors.Errorf("%s should be a positive duration, but was %s", name, d)
		}
	}

	return config, nil
}

func newLogger(config *Config) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, xerrors.Errorf("error parsing LOG_LEVEL: %w", err)
	}
	logger.SetLevel(level)

	switch config.LogFormat {
	case logFormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case logFormatText:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, xerrors.Errorf("LOG_FORMAT should be %q or %q, but was %q", logFormatJSON, logFormatText, config.LogFormat)
	}

	return logger, nil
}
