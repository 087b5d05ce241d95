package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Port int    `envconfig:"PORT" default:"8022"`
	TLS  bool   `envconfig:"TLS" default:"false"`

	DatabasePath string `envconfig:"DB_PATH" default:"remsh.db"`
	LogPath      string `envconfig:"LOG_FILE" default:""`
	HostsFile    string `envconfig:"HOSTS_FILE" default:""`

	// Command execution settings
	DefaultTimeout    time.Duration `envconfig:"DEFAULT_TIMEOUT" default:"30s"`
	IdleWindow        time.Duration `envconfig:"IDLE_WINDOW" default:"2s"`
	InterruptGrace    time.Duration `envconfig:"INTERRUPT_GRACE" default:"5s"`
	KeepaliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`
	HistoryLimit      int           `envconfig:"HISTORY_LIMIT" default:"100"`
	MaxOutputBytes    int           `envconfig:"MAX_OUTPUT_BYTES" default:"10485760"`
	CheckDangerous    bool          `envconfig:"CHECK_DANGEROUS" default:"false"`
	AutoApprove       bool          `envconfig:"AUTO_APPROVE" default:"false"`

	// Retention settings
	RetentionDays int    `envconfig:"RETENTION_DAYS" default:"90"`
	PurgeSchedule string `envconfig:"PURGE_SCHEDULE" default:"17 3 * * *"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("REMSH", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
