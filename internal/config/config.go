package config

import (
	"errors"
	"os"
	"strconv"
)

// Config carries service settings plus the user preferences the dosing core
// reads (rollover hour, window offsets, snooze and undo limits, alert toggles).
type Config struct {
	Env        string
	LogLevel   string
	ListenAddr string

	DBType          string
	DBDSN           string
	FileSessions    string
	FileMedications string

	AuthToken      string
	AuthServiceURL string

	RolloverHour          int
	WindowOpenMinutes     int
	WindowCloseMinutes    int
	NearCloseLeadMinutes  int
	SnoozeMinutes         int
	MaxSnoozes            int
	GraceMinutes          int
	UndoWindowSeconds     int
	DuplicateGuardMinutes int
	PreAlarmLeadMinutes   int
	FollowUpCount         int
	FollowUpSpacingMins   int

	AlertWindowOpen bool
	Alert15Min      bool
	Alert5Min       bool
}

func Load() (*Config, error) {
	_ = loadDotEnv()
	cfg := &Config{
		Env:        getEnv("APP_ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		ListenAddr: getEnv("LISTEN_ADDR", ":8088"),

		DBType:          getEnv("STORAGE_BACKEND", "file"),
		DBDSN:           getEnv("POSTGRES_DSN", ""),
		FileSessions:    getEnv("SESSIONS_FILE", "data/sessions.json"),
		FileMedications: getEnv("MEDICATIONS_FILE", "data/medication_entries.json"),

		AuthToken:      getEnv("API_TOKEN", "MOCK-TOKEN"),
		AuthServiceURL: getEnv("AUTH_SERVICE_URL", ""),

		RolloverHour:          getEnvInt("ROLLOVER_HOUR", 18),
		WindowOpenMinutes:     getEnvInt("WINDOW_OPEN_MINUTES", 150),
		WindowCloseMinutes:    getEnvInt("WINDOW_CLOSE_MINUTES", 240),
		NearCloseLeadMinutes:  getEnvInt("NEAR_CLOSE_LEAD_MINUTES", 15),
		SnoozeMinutes:         getEnvInt("SNOOZE_MINUTES", 10),
		MaxSnoozes:            getEnvInt("MAX_SNOOZES", 3),
		GraceMinutes:          getEnvInt("GRACE_MINUTES", 1),
		UndoWindowSeconds:     getEnvInt("UNDO_WINDOW_SECONDS", 6),
		DuplicateGuardMinutes: getEnvInt("DUPLICATE_GUARD_MINUTES", 10),
		PreAlarmLeadMinutes:   getEnvInt("PRE_ALARM_LEAD_MINUTES", 5),
		FollowUpCount:         getEnvInt("FOLLOW_UP_COUNT", 3),
		FollowUpSpacingMins:   getEnvInt("FOLLOW_UP_SPACING_MINUTES", 2),

		AlertWindowOpen: getEnvBool("ALERT_WINDOW_OPEN", true),
		Alert15Min:      getEnvBool("ALERT_15_MIN", true),
		Alert5Min:       getEnvBool("ALERT_5_MIN", true),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBType == "postgres" && c.DBDSN == "" {
		return errors.New("POSTGRES_DSN is required when STORAGE_BACKEND=postgres")
	}
	if c.DBType == "file" && (c.FileSessions == "" || c.FileMedications == "") {
		return errors.New("file storage requires SESSIONS_FILE and MEDICATIONS_FILE to be set")
	}
	if c.DBType != "file" && c.DBType != "postgres" {
		return errors.New("STORAGE_BACKEND must be one of: file, postgres")
	}
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return errors.New("APP_ENV must be one of: development, staging, production")
	}
	if c.RolloverHour < 0 || c.RolloverHour > 23 {
		return errors.New("ROLLOVER_HOUR must be between 0 and 23")
	}
	if c.WindowOpenMinutes <= 0 || c.WindowCloseMinutes <= c.WindowOpenMinutes {
		return errors.New("WINDOW_CLOSE_MINUTES must be greater than WINDOW_OPEN_MINUTES")
	}
	if c.NearCloseLeadMinutes < 0 || c.NearCloseLeadMinutes >= c.WindowCloseMinutes-c.WindowOpenMinutes {
		return errors.New("NEAR_CLOSE_LEAD_MINUTES must fit inside the dosing window")
	}
	if c.MaxSnoozes < 0 || c.SnoozeMinutes <= 0 {
		return errors.New("snooze settings must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		f, err := os.Open(".env")
		if err != nil {
			return err
		}
		defer f.Close()
		var lines []string
		buf := make([]byte, 4096)
		for {
			n, err := f.Read(buf)
			if n > 0 {
				lines = append(lines, string(buf[:n]))
			}
			if err != nil {
				break
			}
		}
		for _, line := range lines {
			for _, l := range splitLines(line) {
				if len(l) == 0 || l[0] == '#' {
					continue
				}
				kv := splitKV(l)
				if len(kv) == 2 {
					os.Setenv(kv[0], kv[1])
				}
			}
		}
	}
	return nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' || c == '\r' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func splitKV(s string) []string {
	for i, c := range s {
		if c == '=' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return nil
}
