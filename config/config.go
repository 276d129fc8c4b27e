package config

import (
	"os"
	"strconv"
)

type Config struct {
	DatabasePath string

	LogDevelopment bool

	// CalDAV sync is optional; the engine runs fully local without it.
	CalDAVURL      string
	CalDAVUsername string
	CalDAVPassword string
	CalDAVCalendar string
}

func Load() (*Config, error) {
	dbPath := os.Getenv("PLANORA_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/planora.db"
	}

	dev := false
	if v := os.Getenv("PLANORA_LOG_DEV"); v != "" {
		dev, _ = strconv.ParseBool(v)
	}

	return &Config{
		DatabasePath:   dbPath,
		LogDevelopment: dev,
		CalDAVURL:      os.Getenv("CALDAV_URL"),
		CalDAVUsername: os.Getenv("CALDAV_USERNAME"),
		CalDAVPassword: os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendar: os.Getenv("CALDAV_CALENDAR"),
	}, nil
}

// CalDAVConfigured reports whether sync credentials are present.
func (c *Config) CalDAVConfigured() bool {
	return c.CalDAVUsername != "" && c.CalDAVPassword != ""
}
