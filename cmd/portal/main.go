package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"caseportal/api/internal/app"
	"caseportal/api/internal/authpw"
	"caseportal/api/internal/blob"
	"caseportal/api/internal/config"
	"caseportal/api/internal/logging"
	"caseportal/api/internal/portal"
	"caseportal/api/internal/realtime"
	"caseportal/api/internal/session"
	"caseportal/api/internal/store"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = serve(cfg, log)
	case "create-user":
		err = createUser(cfg, args)
	case "create-case":
		err = createCase(cfg, args)
	case "prune-blobs":
		err = pruneBlobs(cfg, log, args)
	default:
		err = fmt.Errorf("unknown command %q (want serve, create-user, create-case or prune-blobs)", command)
	}
	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		log.Fatalw("portal failed", "command", command, "error", err)
	}
}

func serve(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()

	channel, err := realtime.NewChannel(cfg.RedisURL, log.Named("realtime"))
	if err != nil {
		return fmt.Errorf("push channel setup failed: %w", err)
	}
	defer channel.Close()

	blobs, err := openBlobs(cfg)
	if err != nil {
		return err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Warnw("blob bucket not ready, uploads will fail until it is", "bucket", cfg.BlobBucket, "error", err)
	}

	relay := realtime.NewRelay(cfg.DatabaseURL, dataStore, channel, log.Named("relay"))
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("change relay stopped", "error", err)
		}
	}()

	authService := authpw.NewService(dataStore, sessions, cfg.JWTSecret, cfg.AccessTTL)
	service := app.NewService(cfg, dataStore, authService, channel, blobs, log.Named("portal")).
		WithProbe("sessions", sessions).
		WithProbe("push", channel).
		WithProbe("blob", blobs)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("portal API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("shutdown error", "error", err)
	}
	<-relayDone
	return nil
}

func createUser(cfg config.Config, args []string) error {
	var email, password, role, name string
	flags := pflag.NewFlagSet("create-user", pflag.ContinueOnError)
	flags.StringVar(&email, "email", "", "sign-in email")
	flags.StringVar(&password, "password", "", "sign-in password (at least 8 characters)")
	flags.StringVar(&role, "role", "client", "lawyer or client")
	flags.StringVar(&name, "name", "", "full name shown to clients (lawyers only)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if email == "" || password == "" {
		return errors.New("--email and --password are required")
	}
	if role == "lawyer" && name == "" {
		return errors.New("--name is required for lawyers")
	}

	hash, err := authpw.HashPassword(password)
	if err != nil {
		return err
	}

	ctx := context.Background()
	dataStore, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	user, err := dataStore.CreateUser(ctx, store.User{Email: strings.ToLower(strings.TrimSpace(email)), PasswordHash: hash}, role)
	if err != nil {
		return err
	}
	if role == "lawyer" {
		if err := dataStore.CreateLawyer(ctx, user.ID, name); err != nil {
			return err
		}
	}
	fmt.Printf("created %s %s (%s)\n", role, user.Email, user.ID)
	return nil
}

func createCase(cfg config.Config, args []string) error {
	var clientEmail, lawyerEmail, number, caseType, status, description string
	flags := pflag.NewFlagSet("create-case", pflag.ContinueOnError)
	flags.StringVar(&clientEmail, "client", "", "client email")
	flags.StringVar(&lawyerEmail, "lawyer", "", "assigned lawyer email (optional)")
	flags.StringVar(&number, "number", "", "case number")
	flags.StringVar(&caseType, "type", "", "case type")
	flags.StringVar(&status, "status", "open", "case status")
	flags.StringVar(&description, "description", "", "case description")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if clientEmail == "" || number == "" {
		return errors.New("--client and --number are required")
	}

	ctx := context.Background()
	dataStore, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	client, err := dataStore.GetUserByEmail(ctx, clientEmail)
	if err != nil {
		return fmt.Errorf("find client %s: %w", clientEmail, err)
	}
	item := store.Case{ClientID: client.ID, CaseNumber: number, CaseType: caseType, Status: status, Description: description}
	if lawyerEmail != "" {
		lawyer, err := dataStore.GetUserByEmail(ctx, lawyerEmail)
		if err != nil {
			return fmt.Errorf("find lawyer %s: %w", lawyerEmail, err)
		}
		item.LawyerID = lawyer.ID
	}

	created, err := dataStore.CreateCase(ctx, item)
	if err != nil {
		return err
	}
	fmt.Printf("created case %s (%s)\n", created.CaseNumber, created.ID)
	return nil
}

func pruneBlobs(cfg config.Config, log *zap.SugaredLogger, args []string) error {
	var (
		olderThan time.Duration
		dryRun    bool
	)
	flags := pflag.NewFlagSet("prune-blobs", pflag.ContinueOnError)
	flags.DurationVar(&olderThan, "older-than", 24*time.Hour, "only consider blobs last modified longer ago than this")
	flags.BoolVar(&dryRun, "dry-run", false, "list orphans without removing them")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if olderThan < time.Minute {
		return errors.New("--older-than must be at least 1m so in-flight uploads are left alone")
	}

	ctx := context.Background()
	dataStore, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	blobs, err := openBlobs(cfg)
	if err != nil {
		return err
	}

	sweeper := portal.NewOrphanSweeper(blobs, dataStore, log.Named("sweep"))
	result, err := sweeper.Sweep(ctx, time.Now().Add(-olderThan), dryRun)
	if err != nil {
		return err
	}
	for _, p := range result.Orphans {
		fmt.Println(p)
	}
	fmt.Printf("scanned %d objects, %d orphans, %d removed\n", result.Scanned, len(result.Orphans), result.Removed)
	return nil
}

func openBlobs(cfg config.Config) (*blob.Store, error) {
	return blob.New(blob.Options{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
		PublicURL: cfg.BlobPublicURL,
	})
}

func openStore(ctx context.Context, cfg config.Config) (*store.PostgresStore, func(), error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
}
