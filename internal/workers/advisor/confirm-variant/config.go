package confirmvariant

import "time"

type Config struct {
	// Timeout includes generating the variant analysis.
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 120 * time.Second,
	}
}
