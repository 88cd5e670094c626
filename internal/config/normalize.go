package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

const (
	envTelegramToken = "PDFILE_TELEGRAM_TOKEN"
	envNtfyTopic     = "NTFY_TOPIC"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTelegram()
	c.normalizeLimits()
	c.normalizeConverter()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.normalizeStaging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = defaultSocketPath
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeTelegram() {
	c.Telegram.Token = strings.TrimSpace(c.Telegram.Token)
	if c.Telegram.Token == "" {
		if value, ok := os.LookupEnv(envTelegramToken); ok {
			c.Telegram.Token = strings.TrimSpace(value)
		}
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = defaultPollTimeout
	}
	if c.Telegram.SendRate <= 0 {
		c.Telegram.SendRate = defaultSendRate
	}
	if c.Telegram.SendBurst <= 0 {
		c.Telegram.SendBurst = defaultSendBurst
	}
	c.Telegram.DonateURL = strings.TrimSpace(c.Telegram.DonateURL)
	c.Telegram.AdminID = strings.TrimSpace(c.Telegram.AdminID)

	recipients := make([]string, 0, len(c.Telegram.BroadcastRecipients))
	for _, id := range c.Telegram.BroadcastRecipients {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(recipients, id) {
			recipients = append(recipients, id)
		}
	}
	c.Telegram.BroadcastRecipients = recipients
}

func (c *Config) normalizeLimits() {
	if c.Limits.MaxUploadBytes <= 0 {
		c.Limits.MaxUploadBytes = defaultMaxUploadBytes
	}
	if c.Limits.SettleDelayMS < 0 {
		c.Limits.SettleDelayMS = 0
	}
	if c.Limits.MinFreeBytes < 0 {
		c.Limits.MinFreeBytes = 0
	}
	if c.Limits.TransformWorkers <= 0 {
		c.Limits.TransformWorkers = defaultTransformWorkers
	}
}

func (c *Config) normalizeConverter() {
	c.Converter.LibreOfficeBinary = strings.TrimSpace(c.Converter.LibreOfficeBinary)
	if c.Converter.LibreOfficeBinary == "" {
		c.Converter.LibreOfficeBinary = defaultLibreOfficeBinary
	}
	if c.Converter.TimeoutSeconds <= 0 {
		c.Converter.TimeoutSeconds = defaultConverterTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(envNtfyTopic); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeStaging() {
	if c.Staging.MaxAgeHours <= 0 {
		c.Staging.MaxAgeHours = defaultStagingMaxAgeHours
	}
	if c.Staging.SweepIntervalMinutes <= 0 {
		c.Staging.SweepIntervalMinutes = defaultStagingSweepMinutes
	}
}
