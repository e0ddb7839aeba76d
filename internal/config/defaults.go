package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/tansaku/data/metadata.db"
	}
	if cfg.Engine.PreloadWorkers == 0 {
		cfg.Engine.PreloadWorkers = 4
	}
	if cfg.Engine.TaskWorkers == 0 {
		cfg.Engine.TaskWorkers = 2
	}
	if cfg.Engine.DefaultTimeoutMS == 0 {
		cfg.Engine.DefaultTimeoutMS = 5000
	}
	if cfg.Coverage.MinWordSize == 0 {
		cfg.Coverage.MinWordSize = 3
	}
	if cfg.Coverage.LevenshteinMaxWordSize == 0 {
		cfg.Coverage.LevenshteinMaxWordSize = 12
	}
	if cfg.Coverage.TruncateWordHitTolerance == 0 {
		cfg.Coverage.TruncateWordHitTolerance = 1
	}
	if cfg.Coverage.TruncateWordHitLimit == 0 {
		cfg.Coverage.TruncateWordHitLimit = 1
	}
	if cfg.Coverage.TruncationScore == 0 {
		cfg.Coverage.TruncationScore = 250
	}
}
