// Command inksprintd runs the InkSprint writing-sprint server: the TCP wire
// protocol listener plus an optional admin HTTP side-channel, backed by a
// SQLite store and an on-disk avatar blob store. Subcommand dispatch before
// flag parsing mirrors the teacher's main.go/cli.go split.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/kramQAQ/inksprint/internal/adminapi"
	"github.com/kramQAQ/inksprint/internal/auth"
	"github.com/kramQAQ/inksprint/internal/blob"
	"github.com/kramQAQ/inksprint/internal/dispatch"
	"github.com/kramQAQ/inksprint/internal/email"
	"github.com/kramQAQ/inksprint/internal/metrics"
	"github.com/kramQAQ/inksprint/internal/registry"
	"github.com/kramQAQ/inksprint/internal/rooms"
	"github.com/kramQAQ/inksprint/internal/security"
	"github.com/kramQAQ/inksprint/internal/server"
	"github.com/kramQAQ/inksprint/internal/social"
	"github.com/kramQAQ/inksprint/internal/store"
	"github.com/kramQAQ/inksprint/internal/verification"
)

// Version is the build version reported by "status" and printed at startup.
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		cliDB := "inksprint.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	addr := flag.String("addr", "0.0.0.0:23456", "TCP listen address for the wire protocol")
	adminAddr := flag.String("admin-addr", ":8080", "admin HTTP/WebSocket listen address (empty to disable)")
	dbPath := flag.String("db", "inksprint.db", "SQLite database path")
	avatarDir := flag.String("avatar-dir", "", "directory for avatar blobs (default: alongside -db)")
	smtpHost := flag.String("smtp-host", "", "SMTP relay host (empty: verification codes are not delivered)")
	smtpPort := flag.Int("smtp-port", 465, "SMTP relay port")
	smtpUser := flag.String("smtp-username", "", "SMTP username")
	smtpPass := flag.String("smtp-password", "", "SMTP password")
	smtpFrom := flag.String("smtp-from", "", "SMTP from address")
	flag.Parse()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	blobDir := *avatarDir
	if blobDir == "" {
		blobDir = filepath.Join(filepath.Dir(*dbPath), "avatars")
	}
	avatars, err := blob.NewStore(blobDir)
	if err != nil {
		log.Fatalf("[blob] %v", err)
	}

	var mailer email.Sender
	if *smtpHost != "" {
		mailer = email.NewSMTPSender(email.SMTPConfig{
			Host: *smtpHost, Port: *smtpPort, Username: *smtpUser, Password: *smtpPass, From: *smtpFrom,
		})
	} else {
		mailer = email.NoopSender{}
		log.Printf("[email] -smtp-host not set, verification codes will not be delivered")
	}

	identity, err := security.NewServerIdentity()
	if err != nil {
		log.Fatalf("[security] %v", err)
	}

	reg := registry.New()
	codes := verification.New()
	counters := metrics.New()

	authSvc := auth.New(st, avatars, mailer, codes)
	socialSvc := social.New(st, reg, avatars)
	roomsSvc := rooms.New(st, reg, avatars).WithMetrics(counters)
	d := dispatch.New(authSvc, socialSvc, roomsSvc, counters)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	if *adminAddr != "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("[admin] generate token secret: %v", err)
		}
		token, err := adminapi.MintToken(secret)
		if err != nil {
			log.Fatalf("[admin] mint token: %v", err)
		}
		log.Printf("[admin] bearer token for this process: %s", token)

		admin := adminapi.New(reg, st, counters, secret)
		go func() {
			if err := admin.Run(ctx, *adminAddr); err != nil {
				slog.Error("admin server stopped with error", "err", err)
			}
		}()
		log.Printf("[admin] listening on %s", *adminAddr)
	}

	srv := server.New(*addr, identity, reg, d)
	log.Printf("[server] inksprintd %s listening on %s", Version, *addr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[server] %v", err)
	}
}
