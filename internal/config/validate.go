package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTelegram(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"converter.timeout_seconds":      c.Converter.TimeoutSeconds,
		"notifications.request_timeout":  c.Notifications.RequestTimeout,
		"staging.max_age_hours":          c.Staging.MaxAgeHours,
		"staging.sweep_interval_minutes": c.Staging.SweepIntervalMinutes,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		return errors.New("paths.socket_path must be set")
	}
	return nil
}

func (c *Config) validateTelegram() error {
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("telegram.token is required when telegram.enabled is true. Set %s env var or edit %s (create with 'pdfile config init')", envTelegramToken, defaultPath)
	}
	if c.Telegram.DonateURL != "" {
		parsed, err := url.Parse(c.Telegram.DonateURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("telegram.donate_url %q must be an absolute URL", c.Telegram.DonateURL)
		}
	}
	if len(c.Telegram.BroadcastRecipients) > 0 && c.Telegram.AdminID == "" {
		return errors.New("telegram.broadcast_recipients requires telegram.admin_id")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.MaxUploadBytes <= 0 {
		return errors.New("limits.max_upload_bytes must be positive")
	}
	if c.Limits.SettleDelayMS < 0 {
		return errors.New("limits.settle_delay_ms must be >= 0")
	}
	if c.Limits.TransformWorkers <= 0 {
		return errors.New("limits.transform_workers must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
