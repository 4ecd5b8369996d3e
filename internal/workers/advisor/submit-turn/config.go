package submitturn

import "time"

type Config struct {
	// Timeout covers the whole turn, including one generation retry.
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 200 * time.Second,
	}
}
