package config

type AppConfig struct {
	Workdir      string `envconfig:"WORK_DIR"`
	Port         string `envconfig:"PORT" default:"8029"`
	DatabaseUri  string `envconfig:"DATABASE_URI" default:"bridge.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"4"`
	LogToFile    bool   `envconfig:"LOG_TO_FILE" default:"true"`
	LogDBQueries bool   `envconfig:"LOG_DB_QUERIES" default:"false"`

	// Tenant connection configurations registered at startup,
	// comma-separated list of key=value connection strings
	// (type=strike;api-key=...;currency=...).
	Connections []string `envconfig:"CONNECTIONS"`

	// Reconciliation poll interval in milliseconds.
	PollIntervalMs int `envconfig:"POLL_INTERVAL_MS" default:"1000"`
}
