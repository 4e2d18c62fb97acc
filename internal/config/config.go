package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	ListenAddr            string
	DBPath                string
	LockPath              string
	TimersEnabled         bool
	SoundEnabled          bool
	DefaultSnoozeInterval time.Duration
	TickInterval          time.Duration
	OverdueAfter          time.Duration
	CompleteGrace         time.Duration
	SafeRatio             float64
	WarningRatio          float64
	ChangeLogTTL          time.Duration
	WriteTimeout          time.Duration
	FeedPingInterval      time.Duration
	RetryMinBackoff       time.Duration
	RetryMaxBackoff       time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:            "127.0.0.1:7420",
		DBPath:                defaultDBPath(),
		LockPath:              defaultLockPath(),
		TimersEnabled:         true,
		SoundEnabled:          true,
		DefaultSnoozeInterval: 5 * time.Minute,
		TickInterval:          1 * time.Second,
		OverdueAfter:          60 * time.Second,
		CompleteGrace:         60 * time.Second,
		SafeRatio:             0.5,
		WarningRatio:          0.2,
		ChangeLogTTL:          24 * time.Hour,
		WriteTimeout:          5 * time.Second,
		FeedPingInterval:      30 * time.Second,
		RetryMinBackoff:       250 * time.Millisecond,
		RetryMaxBackoff:       10 * time.Second,
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kitchend.db"
	}
	return filepath.Join(home, ".local", "state", "kitchend", "timers.db")
}

func defaultLockPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "kitchend", "kitchend.lock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kitchend.lock"
	}
	return filepath.Join(home, ".local", "state", "kitchend", "kitchend.lock")
}
