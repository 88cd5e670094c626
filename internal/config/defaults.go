package config

const (
	defaultConfigPath           = "~/.config/pdfile/config.toml"
	defaultStagingDir           = "~/.local/share/pdfile/staging"
	defaultLogDir               = "~/.local/share/pdfile/logs"
	defaultSocketPath           = "~/.local/share/pdfile/pdfile.sock"
	defaultPollTimeout          = 60
	defaultSendRate             = 25.0
	defaultSendBurst            = 5
	defaultDonateURL            = "https://yoomoney.ru/to/4100117228897097"
	defaultMaxUploadBytes       = 20 * 1024 * 1024
	defaultSettleDelayMS        = 1000
	defaultMinFreeBytes         = 512 * 1024 * 1024
	defaultTransformWorkers     = 4
	defaultLibreOfficeBinary    = "soffice"
	defaultConverterTimeout     = 180
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultStagingMaxAgeHours   = 24
	defaultStagingSweepMinutes  = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			SocketPath: defaultSocketPath,
		},
		Telegram: Telegram{
			Enabled:     true,
			PollTimeout: defaultPollTimeout,
			SendRate:    defaultSendRate,
			SendBurst:   defaultSendBurst,
			DonateURL:   defaultDonateURL,
		},
		Limits: Limits{
			MaxUploadBytes:   defaultMaxUploadBytes,
			SettleDelayMS:    defaultSettleDelayMS,
			MinFreeBytes:     defaultMinFreeBytes,
			TransformWorkers: defaultTransformWorkers,
		},
		Converter: Converter{
			LibreOfficeBinary: defaultLibreOfficeBinary,
			TimeoutSeconds:    defaultConverterTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			DaemonStart:    true,
			JobFailures:    true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Staging: Staging{
			MaxAgeHours:          defaultStagingMaxAgeHours,
			SweepIntervalMinutes: defaultStagingSweepMinutes,
		},
	}
}
