package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/metalab/rendezvous/internal/rvid"
)

func TestParseConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config, err := parseConfig()
		require.NoError(t, err)
		require.Equal(t, &Config{
			IDSalt:         rvid.DefaultSalt,
			KioskInterval:  10 * time.Second,
			LogFormat:      logFormatText,
			LogLevel:       "info",
			Port:           defaultPort,
			RequestTimeout: 10 * time.Second,
			SweepInterval:  5 * time.Second,
		}, config)
	})

	t.Run("FromEnv", func(t *testing.T) {
		t.Setenv("ID_SALT", "another salt")
		t.Setenv("KIOSK_INTERVAL", "30s")
		t.Setenv("LOG_FORMAT", "json")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("PORT", "8080")
		t.Setenv("REQUEST_TIMEOUT", "2s")
		t.Setenv("SWEEP_INTERVAL", "1m")

		config, err := parseConfig()
		require.NoError(t, err)
		require.Equal(t, &Config{
			IDSalt:         "another salt",
			KioskInterval:  30 * time.Second,
			LogFormat:      logFormatJSON,
			LogLevel:       "debug",
			Port:           8080,
			RequestTimeout: 2 * time.Second,
			SweepInterval:  time.Minute,
		}, config)
	})

	t.Run("InvalidPort", func(t *testing.T) {
		t.Setenv("PORT", "not-a-port")

		_, err := parseConfig()
		require.Error(t, err)
	})

	t.Run("NonPositiveInterval", func(t *testing.T) {
		t.Setenv("SWEEP_INTERVAL", "0s")

		_, err := parseConfig()
		require.EqualError(t, err, "SWEEP_INTERVAL should be a positive duration, but was 0s")
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		logger, err := newLogger(&Config{LogFormat: logFormatText, LogLevel: "warn"})
		require.NoError(t, err)
		require.Equal(t, logrus.WarnLevel, logger.GetLevel())
		require.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	})

	t.Run("JSON", func(t *testing.T) {
		logger, err := newLogger(&Config{LogFormat: logFormatJSON, LogLevel: "info"})
		require.NoError(t, err)
		require.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := newLogger(&Config{LogFormat: logFormatText, LogLevel: "loud"})
		require.Error(t, err)
	})

	t.Run("InvalidFormat", func(t *testing.T) {
		_, err := newLogger(&Config{LogFormat: "xml", LogLevel: "info"})
		require.EqualError(t, err, `LOG_FORMAT should be "text" or "json", but was "xml"`)
	})
}
