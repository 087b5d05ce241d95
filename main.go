package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/remsh/internal/config"
	"github.com/gluk-w/remsh/internal/crypto"
	"github.com/gluk-w/remsh/internal/database"
	"github.com/gluk-w/remsh/internal/handlers"
	"github.com/gluk-w/remsh/internal/hostcfg"
	"github.com/gluk-w/remsh/internal/logging"
	"github.com/gluk-w/remsh/internal/sshaudit"
	"github.com/gluk-w/remsh/internal/sshexec"
	"github.com/gluk-w/remsh/internal/sshfiles"
	"github.com/gluk-w/remsh/internal/sshpool"
)

func main() {
	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	sshaudit.InitGlobal(database.DB, config.Cfg.RetentionDays)

	pool := sshpool.NewManager(sshpool.Config{
		KeepaliveInterval: config.Cfg.KeepaliveInterval,
		BufferSize:        config.Cfg.MaxOutputBytes,
	})
	pool.Tracker().OnStateChange(func(key string, from, to sshpool.Status) {
		switch {
		case from == sshpool.StatusConnecting && to == sshpool.StatusReady:
			sshaudit.LogEvent(sshaudit.EventSessionOpened, key, "")
		case to == sshpool.StatusDead:
			sshaudit.LogEvent(sshaudit.EventSessionLost, key, "previous status "+from.String())
		}
	})

	resolver := hostcfg.NewResolver(config.Cfg.HostsFile)
	gate := hostcfg.NewEnvGate(resolver, config.Cfg.AutoApprove)

	eng := sshexec.New(pool, gate, sshexec.Config{
		DefaultTimeout: config.Cfg.DefaultTimeout,
		IdleWindow:     config.Cfg.IdleWindow,
		InterruptGrace: config.Cfg.InterruptGrace,
		MaxOutputBytes: config.Cfg.MaxOutputBytes,
		HistoryLimit:   config.Cfg.HistoryLimit,
		CheckDangerous: config.Cfg.CheckDangerous,
	})
	eng.Archive = func(snap sshexec.Snapshot) {
		row := database.CommandArchive{
			CommandID:  snap.ID,
			SessionKey: snap.SessionKey,
			Command:    snap.Command,
			Status:     snap.Status.String(),
			ExitCode:   snap.ExitCode,
			Output:     snap.Output,
			Truncated:  snap.Truncated,
			StartedAt:  snap.StartedAt,
			EndedAt:    snap.EndedAt,
		}
		if err := database.SaveArchive(&row); err != nil {
			log.Printf("Archive save for %s: %v", snap.ID, err)
		}
	}
	eng.Audit = sshaudit.LogEvent

	files := sshfiles.NewService(pool, eng, gate)
	files.Audit = sshaudit.LogEvent

	handlers.Pool = pool
	handlers.Eng = eng
	handlers.Files = files
	handlers.Resolver = resolver

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no body required)
	r.Get("/health", handlers.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Command execution
		r.Post("/execute", handlers.ExecuteCommand)
		r.Post("/execute/async", handlers.ExecuteCommandAsync)

		// Command registry
		r.Get("/commands", handlers.ListCommands)
		r.Get("/commands/{id}", handlers.GetCommand)
		r.Post("/commands/{id}/interrupt", handlers.InterruptCommand)
		r.Post("/commands/{id}/input", handlers.SendCommandInput)
		r.Get("/commands/{id}/stream", handlers.StreamCommandOutput)
		r.Get("/history", handlers.ListHistory)

		// Session pool
		r.Get("/sessions", handlers.ListSessions)
		r.Post("/sessions/close", handlers.CloseSession)
		r.Post("/sessions/close-all", handlers.CloseAllSessions)

		// File transfer
		r.Post("/files/read", handlers.ReadFile)
		r.Post("/files/write", handlers.WriteFile)
		r.Post("/files/list", handlers.ListFiles)

		// Registered hosts
		r.Get("/hosts", handlers.ListHosts)
		r.Post("/hosts", handlers.UpsertHost)
		r.Delete("/hosts/{alias}", handlers.DeleteHost)

		// Persistence surfaces
		r.Get("/archive", handlers.GetArchive)
		r.Get("/audit", handlers.GetAuditLogs)
		r.Post("/audit/purge", handlers.PurgeAuditLogs)
	})

	purge := startPurgeJob()
	defer purge.Stop()

	addr := fmt.Sprintf("%s:%d", config.Cfg.Host, config.Cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	if config.Cfg.TLS {
		cert, _, err := crypto.ServerCert(config.Cfg.Host)
		if err != nil {
			log.Fatalf("Server cert: %v", err)
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{*cert}}
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		var err error
		if config.Cfg.TLS {
			log.Printf("Server starting on https://%s", addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			log.Printf("Server starting on http://%s", addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	files.Close()
	pool.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
