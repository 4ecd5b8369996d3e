package exportconversation

import "time"

type Config struct {
	Timeout time.Duration
	// FromEmail is the sender for export links; empty disables e-mail.
	FromEmail string
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 60 * time.Second,
	}
}
