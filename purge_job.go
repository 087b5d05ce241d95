package main

import (
	"log"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/remsh/internal/config"
	"github.com/gluk-w/remsh/internal/database"
	"github.com/gluk-w/remsh/internal/sshaudit"
)

// runRetentionPurge removes archived commands and audit entries older than
// the configured horizon. Runs on the cron schedule; safe to call directly.
func runRetentionPurge() {
	days := config.Cfg.RetentionDays
	if days <= 0 {
		days = sshaudit.DefaultRetentionDays
	}

	archived, err := database.PurgeArchiveOlderThan(days)
	if err != nil {
		log.Printf("Archive purge: %v", err)
	} else if archived > 0 {
		log.Printf("Archive purge: removed %d commands older than %d days", archived, days)
	}

	if a := sshaudit.GetAuditor(); a != nil {
		if _, err := a.PurgeOlderThan(days); err != nil {
			log.Printf("Audit purge: %v", err)
		}
	}
}

// startPurgeJob schedules the retention purge. The returned runner is
// stopped by main on shutdown.
func startPurgeJob() *cron.Cron {
	c := cron.New()
	if _, err := c.AddFunc(config.Cfg.PurgeSchedule, runRetentionPurge); err != nil {
		log.Printf("Bad purge schedule %q, retention purge disabled: %v", config.Cfg.PurgeSchedule, err)
		return c
	}
	c.Start()
	log.Printf("Retention purge scheduled (%s, horizon %d days)", config.Cfg.PurgeSchedule, config.Cfg.RetentionDays)
	return c
}
